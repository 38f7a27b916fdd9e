package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

// DefaultAddr is the dashboard listen address (localhost only).
const DefaultAddr = "127.0.0.1:9090"

const shutdownTimeout = 5 * time.Second

// Dashboard serves recent events, health and Prometheus metrics.
type Dashboard struct {
	events         audit.EventReader
	addr           string
	allowedOrigins []string
	tokenHash      string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring Dashboard.
type Option func(*Dashboard)

// WithAddr sets the listen address. Default is DefaultAddr.
func WithAddr(addr string) Option {
	return func(d *Dashboard) {
		d.addr = addr
	}
}

// WithAllowedOrigins sets the browser origins accepted by the dashboard.
func WithAllowedOrigins(origins []string) Option {
	return func(d *Dashboard) {
		d.allowedOrigins = origins
	}
}

// WithTokenHash requires a bearer token matching hash on /events.
func WithTokenHash(hash string) Option {
	return func(d *Dashboard) {
		d.tokenHash = hash
	}
}

// WithLogger sets the logger for the dashboard.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// WithRegistry serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Dashboard) {
		d.registry = reg
	}
}

// WithMetrics records dashboard requests on m, which must be registered on
// the registry given to WithRegistry. Without it NewMetrics is called on the
// registry.
func WithMetrics(m *Metrics) Option {
	return func(d *Dashboard) {
		d.metrics = m
	}
}

// WithHealthChecker sets the checker behind /health.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(d *Dashboard) {
		d.healthChecker = hc
	}
}

// NewDashboard creates a dashboard over events.
func NewDashboard(events audit.EventReader, opts ...Option) *Dashboard {
	d := &Dashboard{
		events: events,
		addr:   DefaultAddr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.healthChecker == nil {
		d.healthChecker = NewHealthChecker(nil, nil, nil, "")
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(d.registry)
	}
	return d
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the routed handler with its middleware chain.
func (d *Dashboard) Handler() http.Handler {
	events := eventsHandler(d.events)
	events = TokenAuth(d.tokenHash)(events)

	mux := http.NewServeMux()
	mux.Handle("/events", events)
	mux.Handle("/health", d.healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{
		Registry: d.registry,
	}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var handler http.Handler = mux
	handler = DNSRebindingProtection(d.allowedOrigins)(handler)
	handler = RequestIDMiddleware(d.logger)(handler)
	handler = MetricsMiddleware(d.metrics)(handler)
	return handler
}

// Listen binds the listen address. It fails immediately when the address is
// unavailable.
func (d *Dashboard) Listen() error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.listener = ln
	d.server = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.mu.Unlock()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (d *Dashboard) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.addr
}

// Serve accepts connections until ctx is canceled. Listen must succeed first.
func (d *Dashboard) Serve(ctx context.Context) error {
	d.mu.Lock()
	server, ln := d.server, d.listener
	d.mu.Unlock()
	if server == nil {
		return errors.New("dashboard: Serve called before Listen")
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("starting dashboard", "addr", ln.Addr().String())
		err := server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return d.shutdown()
	case err := <-errCh:
		return err
	}
}

// Start binds and serves until ctx is canceled.
func (d *Dashboard) Start(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}
	return d.Serve(ctx)
}

func (d *Dashboard) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.mu.Lock()
	server := d.server
	d.mu.Unlock()

	if err := server.Shutdown(ctx); err != nil {
		d.logger.Error("error during dashboard shutdown", "error", err)
		return err
	}
	d.logger.Info("dashboard shutdown complete")
	return nil
}

// Close shuts the server down if it was started.
func (d *Dashboard) Close() error {
	d.mu.Lock()
	server := d.server
	d.mu.Unlock()
	if server == nil {
		return nil
	}
	return d.shutdown()
}
