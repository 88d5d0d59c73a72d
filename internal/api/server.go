package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notionsync/internal/database"
	"notionsync/internal/mapping"
	"notionsync/internal/metrics"
	"notionsync/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Enqueuer is the slice of the sync manager the HTTP surface needs.
type Enqueuer interface {
	QueueSync(ctx context.Context, table, recordID, operation string, data map[string]any) (string, error)
}

// Server exposes the sync engine over HTTP: the Notion webhook receiver,
// a manual sync trigger, health, stats, and Prometheus metrics.
type Server struct {
	db            *database.DB
	queue         Enqueuer
	registry      *mapping.Registry
	webhookSecret string
	logger        *zerolog.Logger
	server        *http.Server
}

type ServerOptions struct {
	Port          int
	DB            *database.DB
	Queue         Enqueuer
	Registry      *mapping.Registry
	WebhookSecret string
	Logger        *zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	s := &Server{
		db:            opts.DB,
		queue:         opts.Queue,
		registry:      opts.Registry,
		webhookSecret: opts.WebhookSecret,
		logger:        opts.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/notion", s.handleNotionWebhook)
	mux.HandleFunc("/sync", s.handleManualSync)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// notionWebhookEvent is the subset of a Notion webhook body the router
// needs to translate the event into a sync job.
type notionWebhookEvent struct {
	Type       string `json:"type"`
	Operation  string `json:"operation"`
	DatabaseID string `json:"database_id"`
	PageID     string `json:"page_id"`
}

func (s *Server) handleNotionWebhook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("webhook")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read body failed")
		return
	}

	if s.webhookSecret != "" {
		signature := r.Header.Get("X-Notion-Signature")
		timestamp := r.Header.Get("X-Notion-Request-Timestamp")
		if !ValidateWebhook(s.webhookSecret, signature, timestamp, body, time.Now()) {
			metrics.IncWebhook("rejected")
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var event notionWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.IncWebhook("rejected")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if event.Type != "page" || event.Operation == "" {
		// accepted-or-ignored: event kinds we don't sync still get a 200
		metrics.IncWebhook("ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	table, ok := s.registry.ByDatabaseID(event.DatabaseID)
	if !ok {
		metrics.IncWebhook("ignored")
		s.logger.Debug().Str("database_id", event.DatabaseID).Msg("webhook for unmapped database ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// data stays nil: the worker reads the current record, not the
	// Notion-shaped properties from the event
	jobID, err := s.queue.QueueSync(r.Context(), table, event.PageID, mapWebhookOperation(event.Operation), nil)
	if err != nil {
		metrics.IncWebhook("error")
		s.logger.Error().Err(err).Str("table", table).Msg("webhook enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	metrics.IncWebhook("accepted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
}

func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		TableName string `json:"tableName"`
		RecordID  string `json:"recordId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.TableName == "" {
		writeError(w, http.StatusBadRequest, "tableName is required")
		return
	}

	jobID, err := s.queue.QueueSync(r.Context(), body.TableName, body.RecordID, models.OpUpdate, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("table", body.TableName).Msg("manual sync enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("health")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("stats")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.db.SyncStats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// mapWebhookOperation translates Notion event verbs to queue operations.
// Unknown verbs sync as update, the safest interpretation of "something
// changed".
func mapWebhookOperation(operation string) string {
	switch operation {
	case "created":
		return models.OpCreate
	case "deleted", "archived":
		return models.OpDelete
	default:
		return models.OpUpdate
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
