// Package http exposes the billing service as a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	"billing/internal/cache"
	"billing/internal/core"
	"billing/internal/currency"
	applog "billing/internal/log"
	"billing/internal/middleware/ratelimit"
	"billing/internal/middleware/security"
	"billing/internal/middleware/trace"
	"billing/internal/services"
)

// BillingAPI is the part of services.BillingService the handlers call.
type BillingAPI interface {
	Preview(ctx context.Context, clientID string, period core.Period) (core.ClientProjectData, error)
	DraftLineItems(ctx context.Context, clientID string, period core.Period, selection core.Selection, taxRate *decimal.Decimal) (services.LineItemDraft, error)
	ComputeLineItems(inputs []services.LineItemInput) services.LineItemBatch
	CreateInvoice(ctx context.Context, req services.CreateInvoiceRequest) (core.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error)
	ListInvoices(ctx context.Context, clientID string) ([]core.Invoice, error)
}

var _ BillingAPI = (*services.BillingService)(nil)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Formatter      *currency.Formatter
	Ready          Pinger
	RateLimit      ratelimit.Config
	TrustedProxies []string
	Headers        security.HeadersConfig
	// InvoiceCacheTTL bounds how long a fetched invoice is served from
	// memory. Zero disables the cache.
	InvoiceCacheTTL time.Duration
	Logger          *applog.Logger
}

type Server struct {
	http.Server
	billing   BillingAPI
	formatter *currency.Formatter
	ready     Pinger
	logger    *applog.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	invoices *cache.LRUCache[core.Invoice]
	caches   *cache.Manager
	metrics  appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	started         time.Time
	invoicesCreated atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
}

const invoiceCacheSize = 256

func NewServer(addr string, billing BillingAPI, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	detector, err := security.NewDetector(opts.TrustedProxies, logger)
	if err != nil {
		return nil, fmt.Errorf("security detector: %w", err)
	}
	if opts.Headers == (security.HeadersConfig{}) {
		opts.Headers = security.DefaultHeadersConfig()
	}

	s := &Server{
		billing:   billing,
		formatter: opts.Formatter,
		ready:     opts.Ready,
		logger:    logger.WithComponent(applog.ComponentHTTP),
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  detector,
		caches:    cache.NewManager(logger),
	}
	s.metrics.started = time.Now()
	s.tracer = trace.NewMiddleware(detector.ExtractClientIP, logger)
	if opts.InvoiceCacheTTL > 0 {
		s.invoices = cache.NewLRUCache[core.Invoice](invoiceCacheSize, opts.InvoiceCacheTTL)
		s.caches.Register("invoices", s.invoices)
		s.caches.StartCleanup(opts.InvoiceCacheTTL)
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(opts.Headers),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

func (s *Server) routes(headers security.HeadersConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(headers).Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.detector.Middleware)
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, handleRateLimited))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/line-items/compute", s.handleComputeLineItems)
		r.Route("/clients/{clientID}", func(r chi.Router) {
			r.Get("/billing", s.handleBilling)
			r.Post("/line-items", s.handleDraftLineItems)
			r.Get("/invoices", s.handleListInvoices)
			r.Post("/invoices", s.handleCreateInvoice)
		})
		r.Get("/invoices/{invoiceID}", s.handleGetInvoice)
	})
	return r
}

// Shutdown stops background work and then drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.caches.Stop()
	})
	return s.Server.Shutdown(ctx)
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.tracer.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	cached := 0
	if s.invoices != nil {
		cached = s.invoices.Size()
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, m := range []struct {
		name, kind, help string
		value            int64
	}{
		{"http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests},
		{"http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime},
		{"invoices_created_total", "counter", "Invoices created through the API", s.metrics.invoicesCreated.Load()},
		{"invoice_cache_hits_total", "counter", "Invoice reads served from memory", s.metrics.cacheHits.Load()},
		{"invoice_cache_misses_total", "counter", "Invoice reads that went to the store", s.metrics.cacheMisses.Load()},
		{"invoice_cache_entries", "gauge", "Invoices currently cached", int64(cached)},
		{"rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", limitMetrics.TotalHits},
		{"rate_limit_clients", "gauge", "Clients tracked by the rate limiter", limitMetrics.ClientCount},
		{"security_suspicious_requests_total", "counter", "Requests flagged as suspicious", securityMetrics.SuspiciousRequests},
		{"security_invalid_ip_total", "counter", "Requests with an unparseable client address", securityMetrics.InvalidIPAttempts},
		{"uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.metrics.started).Seconds())},
	} {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n", m.name, m.help, m.name, m.kind, m.name, m.value)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			render.Status(r, http.StatusServiceUnavailable)
			render.PlainText(w, r, "not ready")
			return
		}
	}
	render.PlainText(w, r, "ready")
}

func handleRateLimited(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, errorResponse{Error: "rate limit exceeded"})
}
