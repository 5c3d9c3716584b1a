package worker

import (
	"errors"
	"sync"
)

// WithPool はプールを作成して fn を実行し、どの経路で抜けても必ず停止する
// fn がパニックした場合は停止後にパニックを再送出する
func WithPool(config PoolConfig, fn func(*Pool) error) error {
	p, err := New(config)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = p.Stop()
			panic(r)
		}
	}()

	fnErr := fn(p)
	return errors.Join(fnErr, p.Stop())
}

// Guard は defer で使うためのプール停止ハンドル
type Guard struct {
	pool *Pool
	once sync.Once
	err  error
}

// Guard は新しい Guard を返す
//
//	defer pool.Guard().Release()
func (p *Pool) Guard() *Guard {
	return &Guard{pool: p}
}

// Release はプールを停止する
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.pool.Stop()
	})
	return g.err
}
