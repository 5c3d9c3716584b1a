package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/metrics"
	"aqueue/internal/scenario"
	"aqueue/internal/worker"
)

// Server はプールの診断APIサーバー
type Server struct {
	addr     string
	pool     *worker.Pool
	bus      *events.Bus
	router   chi.Router
	registry *prometheus.Registry

	stopTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	engine     *scenario.Engine
	lastResult *scenario.Result
	wsClients  map[*websocket.Conn]bool

	scenarios sync.WaitGroup
	server    *http.Server
}

// defaultStopTimeout は POST /api/v1/pool/stop がワーカーの終了を待つ上限
const defaultStopTimeout = 30 * time.Second

// NewServer は新しいAPIサーバーを作成する
// bus が nil の場合、WebSocket はステータスのみを配信する
func NewServer(addr string, pool *worker.Pool, bus *events.Bus) (*Server, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewCollector(pool)); err != nil {
		return nil, fmt.Errorf("failed to register pool collector: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:        addr,
		pool:        pool,
		bus:         bus,
		router:      chi.NewRouter(),
		registry:    registry,
		stopTimeout: defaultStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		wsClients:   make(map[*websocket.Conn]bool),
	}

	s.setupMiddleware()
	s.setupRoutes()

	if bus != nil {
		go s.forwardEvents(bus.Subscribe())
	}
	go s.broadcastLoop()

	return s, nil
}

// requestLogger は chi のリクエストログを logger に流す
type requestLogger struct{}

func (requestLogger) Print(v ...any) {
	logger.Debug("api", "%s", fmt.Sprint(v...))
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: requestLogger{}, NoColor: true}))
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/pool", func(r chi.Router) {
			r.Get("/", s.handlePool)
			r.Post("/jobs", s.handleSubmitJobs)
			r.Post("/stop", s.handleStopPool)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handlePresets)
			r.Get("/last", s.handleLastResult)
			r.Post("/{name}", s.handleRunScenario)
		})
	})

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.Handle("/ws", websocket.Handler(s.handleWebSocket))
}

// SetStopTimeout は停止APIの待機上限を設定する
func (s *Server) SetStopTimeout(d time.Duration) {
	if d > 0 {
		s.stopTimeout = d
	}
}

// Handler はルーターを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.Close()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close はバックグラウンド処理と WebSocket 接続を終了する
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
	s.wsClients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
}

// WaitScenarios はバックグラウンドで実行中のシナリオの終了を待つ
func (s *Server) WaitScenarios() {
	s.scenarios.Wait()
}
