package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-monitor/internal/audit"
	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/monitor"
	"github.com/nerrad567/gray-logic-monitor/internal/persistence"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Repository persists admin changes so they survive a restart.
type Repository interface {
	SaveTag(ctx context.Context, t *tag.Tag) error
	DeleteTag(ctx context.Context, id int64) error
	SaveEntity(ctx context.Context, e *supervision.Entity) error
}

// HistoryReader answers tag history queries from the update log.
type HistoryReader interface {
	History(ctx context.Context, tagID int64, since time.Time, limit int) ([]persistence.Record, error)
}

// BrokerStatus reports whether the MQTT connection is up.
type BrokerStatus interface {
	IsConnected() bool
}

// DBStats exposes connection pool statistics.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Monitor  *monitor.Monitor

	// Buffer tunes the cache listeners feeding the WebSocket hub.
	Buffer cache.BufferOptions

	Repository Repository       // optional: admin changes are not persisted without it
	History    HistoryReader    // optional: history endpoint answers 503 without it
	Broker     BrokerStatus     // optional
	DB         DBStats          // optional
	Audit      audit.Repository // optional: admin actions are not recorded without it

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Registerer  prometheus.Registerer

	Version string
}

// Server is the HTTP API server for Gray Logic Monitor.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	monitor     *monitor.Monitor
	buffer      cache.BufferOptions
	repo        Repository
	history     HistoryReader
	broker      BrokerStatus
	db          DBStats
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time

	reg      prometheus.Registerer
	requests *prometheus.HistogramVec
	limiter  *clientLimiter

	server *http.Server
	hub    *Hub
	subs   []cache.Subscription
	cancel context.CancelFunc // cancels background goroutines on Close()
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		monitor:     deps.Monitor,
		buffer:      deps.Buffer,
		repo:        deps.Repository,
		history:     deps.History,
		broker:      deps.Broker,
		db:          deps.DB,
		auditRepo:   deps.Audit,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
		reg:         deps.Registerer,
		requests: metrics.MustRegister(deps.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = newClientLimiter(rate.Limit(float64(rl.RequestsPerMinute)/60), rl.RequestsPerMinute)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and its cache relays, sets up the router, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.startHub(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startHub creates the WebSocket hub, subscribes it to the caches and
// starts the background loops.
func (s *Server) startHub(ctx context.Context) {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger, s.reg)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()

	if s.limiter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.limiter.cleanLoop(srvCtx)
		}()
	}

	if s.auditRepo != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drainAudit(srvCtx)
		}()
	}

	s.subs = s.hub.Relay(s.monitor.Tags(), s.monitor.Entities(), s.buffer)
}

// Close gracefully shuts down the API server.
//
// It detaches the WebSocket relays, closes every WebSocket client and waits
// up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
