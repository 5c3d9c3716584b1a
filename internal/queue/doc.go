// Package queue provides the FIFO job queue shared by a pool's workers.
//
// JobQueue is safe for concurrent producers and consumers. Enqueue never
// blocks; Dequeue blocks while the queue is empty and returns ok == false
// once the queue has been closed and fully drained.
//
// # Basic Usage
//
//	q := queue.New[func()](0) // unbounded
//	_ = q.Enqueue(func() { fmt.Println("hello") })
//
//	go func() {
//	    for {
//	        job, ok := q.Dequeue()
//	        if !ok {
//	            return // closed and empty
//	        }
//	        job()
//	    }
//	}()
//
//	q.Close()
//
// # Ordering
//
// Items are handed out strictly in the order they were enqueued, across
// all consumers. Each item is delivered to exactly one consumer.
package queue
