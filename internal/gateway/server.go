// Package gateway exposes batch submission, the realtime event stream and the
// invite log over HTTP. Every request is authenticated with a bearer token
// that maps to exactly one owner.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/KafClaw/groupforge/internal/bus"
	"github.com/KafClaw/groupforge/internal/intake"
	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/participants"
	"github.com/KafClaw/groupforge/internal/scheduler"
	"github.com/KafClaw/groupforge/internal/task"
)

// SessionStates reports per-owner session readiness. *messaging.Registry
// implements it.
type SessionStates interface {
	State(owner string) messaging.SessionState
}

// StatusSource reports per-owner scheduling state. *scheduler.Scheduler
// implements it.
type StatusSource interface {
	Status(owner string) scheduler.Status
}

// Options wires the gateway to the rest of the process.
type Options struct {
	Tokens         map[string]string // bearer token -> owner
	MaxUploadBytes int64
	Builder        *intake.Builder
	Queue          intake.Enqueuer
	Hub            *bus.Hub
	Ledger         *ledger.Service
	Sessions       SessionStates
	Scheduler      StatusSource
	Version        string
	KeepAlive      time.Duration
}

// Server is the HTTP gateway.
type Server struct {
	opts    Options
	mux     *http.ServeMux
	started time.Time
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	s := &Server{opts: opts, mux: http.NewServeMux(), started: time.Now()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.mux.HandleFunc("POST /api/v1/batches", s.authed(s.handleUpload))
	s.mux.HandleFunc("POST /api/v1/groups", s.authed(s.handleManual))
	s.mux.HandleFunc("GET /api/v1/events", s.authed(s.handleEvents))
	s.mux.HandleFunc("GET /api/v1/logs", s.authed(s.handleLogDays))
	s.mux.HandleFunc("GET /api/v1/logs/{day}", s.authed(s.handleLogExport))
	s.mux.HandleFunc("GET /api/v1/status", s.authed(s.handleStatus))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Gateway shutdown", "error", err)
		}
		slog.Info("Gateway stopped")
		return nil
	}
}

type ownerKey struct{}

// authed resolves the bearer token to an owner and stores it on the request
// context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			// EventSource cannot set headers.
			token = r.URL.Query().Get("token")
		}
		owner, ok := s.opts.Tokens[token]
		if token == "" || !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	}
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

// submitResponse acknowledges an accepted batch.
type submitResponse struct {
	*intake.Batch
	Queued int `json:"queued"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("contacts")
		if err != nil {
			if tooLarge(err) {
				http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "missing contacts file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	rows, err := intake.ReadCSV(body)
	if err != nil {
		if tooLarge(err) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.submit(w, ownerFrom(r), rows)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// manualRequest is the single-group entry form.
type manualRequest struct {
	GroupName    string `json:"groupName"`
	Numbers      string `json:"numbers"`
	DesiredAdmin string `json:"desiredAdminNumber"`
	Contacts     string `json:"contacts"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	row, err := intake.ManualRow(req.GroupName, req.Numbers, req.DesiredAdmin, req.Contacts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.submit(w, ownerFrom(r), []participants.Row{row})
}

func (s *Server) submit(w http.ResponseWriter, owner string, rows []participants.Row) {
	batch, err := s.opts.Builder.Build(owner, rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	intake.Submit(s.opts.Queue, s.opts.Hub, batch)
	writeJSON(w, http.StatusAccepted, submitResponse{Batch: batch, Queued: batch.Queued()})
}

// handleEvents streams the owner's events as server-sent events. The stream
// opens with the current session status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	owner := ownerFrom(r)
	sub := s.opts.Hub.Subscribe(owner)
	defer s.opts.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, task.EventStatus, map[string]any{"owner": owner, "state": s.opts.Sessions.State(owner)}); err != nil {
		return
	}
	flusher.Flush()
	slog.Debug("Event stream attached", "owner", owner)

	ping := time.NewTicker(s.opts.KeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Event stream detached", "owner", owner)
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, evt.Name, evt.Payload); err != nil {
				slog.Debug("Event stream write failed", "owner", owner, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// logDay is one downloadable day of the invite log.
type logDay struct {
	Day      string `json:"day"`
	Filename string `json:"filename"`
}

func (s *Server) handleLogDays(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	days, err := s.opts.Ledger.ListDays(owner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]logDay, 0, len(days))
	for _, d := range days {
		out = append(out, logDay{Day: d, Filename: ledger.ExportFilename(owner, d)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func (s *Server) handleLogExport(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	day := r.PathValue("day")
	if !ledger.ValidDay(day) {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ledger.ExportFilename(owner, day)))
	if _, err := s.opts.Ledger.ExportDay(w, owner, day); err != nil {
		slog.Error("Invite log export failed", "owner", owner, "day", day, "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	resp := map[string]any{
		"owner":          owner,
		"version":        s.opts.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"session":        s.opts.Sessions.State(owner),
		"listeners":      s.opts.Hub.Subscribers(owner),
		"sink_backlog":   s.opts.Hub.PendingSinkEvents(),
	}
	if s.opts.Scheduler != nil {
		resp["scheduler"] = s.opts.Scheduler.Status(owner)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Response encode failed", "error", err)
	}
}
