package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"linechat/internal/domain"
	"linechat/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// Batch result tokens written as the response body.
const (
	bodySuccess = "SUCCESS"
	bodyFailed  = "FAILED"
)

// BatchHandler processes the decoded events of one delivery.
type BatchHandler interface {
	HandleBatch(ctx context.Context, events []domain.InboundEvent) domain.Summary
}

// WebhookConfig configures the webhook HTTP entry point.
type WebhookConfig struct {
	Host        string
	Port        int
	Path        string // callback path (default: /callback)
	Secret      string // channel secret for signature verification
	MetricsPath string // empty disables the metrics endpoint
	Handler     BatchHandler
	Logger      *slog.Logger
}

// Webhook receives LINE webhook deliveries and runs them through the pipeline.
type Webhook struct {
	host        string
	port        int
	path        string
	secret      string
	metricsPath string
	handler     BatchHandler
	logger      *slog.Logger
	server      *http.Server
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/callback"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Webhook{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		secret:      cfg.Secret,
		metricsPath: cfg.MetricsPath,
		handler:     cfg.Handler,
		logger:      cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "line-webhook" }

// Routes returns the HTTP handler serving the callback, health and metrics endpoints.
func (w *Webhook) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(w.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post(w.path, w.handleCallback)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte("ok"))
	})
	if w.metricsPath != "" {
		r.Get(w.metricsPath, metrics.Default.Handler())
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleCallback(rw http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.Inc()

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.logger.Warn("webhook rejected: body too large", "limit", tooLarge.Limit)
			writeToken(rw, http.StatusRequestEntityTooLarge, bodyFailed)
			return
		}
		writeToken(rw, http.StatusBadRequest, bodyFailed)
		return
	}
	defer r.Body.Close()

	// Verify on the raw bytes before any decoding.
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		metrics.SignatureRejections.Inc()
		w.logger.Warn("webhook rejected: missing signature")
		writeToken(rw, http.StatusUnauthorized, bodyFailed)
		return
	}
	if !VerifySignature(body, sig, w.secret) {
		metrics.SignatureRejections.Inc()
		w.logger.Warn("webhook rejected: invalid signature")
		writeToken(rw, http.StatusForbidden, bodyFailed)
		return
	}

	events, err := ParseEvents(body)
	if err != nil {
		w.logger.Warn("webhook bad payload", "err", err)
		writeToken(rw, http.StatusBadRequest, bodyFailed)
		return
	}

	w.logger.Info("webhook received", "events", len(events))

	summary := w.handler.HandleBatch(r.Context(), events)

	if failed := summary.Failed(); len(failed) > 0 {
		for _, o := range failed {
			w.logger.Error("event failed", "index", o.Index, "user", o.UserID, "err", o.Err)
		}
		w.logger.Error("webhook batch failed", "events", len(events), "failed", len(failed))
		writeToken(rw, http.StatusInternalServerError, bodyFailed)
		return
	}

	writeToken(rw, http.StatusOK, bodySuccess)
}

func writeToken(rw http.ResponseWriter, status int, token string) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(status)
	rw.Write([]byte(token))
}

// requestLogger logs one line per request through slog.
func (w *Webhook) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		w.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
