// ABOUTME: The Chimera HTTP surface: /stream (SSE), /halt, /threads, transcripts, and
// ABOUTME: liveness, behind a chi router with request-id and recoverer middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
	"github.com/2389-research/chimera/store"
	"github.com/2389-research/chimera/thread"
)

// sseItemTimeout bounds the wait for the next queue item before the stream is
// declared stuck.
const sseItemTimeout = 5 * time.Minute

// stallErrorText is streamed when the worker stops producing events.
const stallErrorText = "Internal timeout – worker unresponsive"

// workerDrainWait bounds how long a cancelled worker gets to finish cleanup.
const workerDrainWait = 3 * time.Second

// streamRequest is the POST /stream body.
type streamRequest struct {
	ThreadProtocol []protocol.Event    `json:"thread_protocol"`
	UserInput      *protocol.UserInput `json:"user_input"`
}

// haltRequest is the POST /halt body.
type haltRequest struct {
	ThreadID string `json:"thread_id"`
}

// Server hosts the thread engine over HTTP.
type Server struct {
	cfg          Config
	driver       *thread.Driver
	registry     *thread.Registry
	index        *store.ThreadIndex
	router       chi.Router
	stallTimeout time.Duration
}

// NewServer wires the driver, the running-thread registry, and (when a data
// dir is configured) the SQLite thread index.
func NewServer(cfg Config, widgets *plugin.Registry) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		registry:     thread.NewRegistry(),
		stallTimeout: sseItemTimeout,
	}

	if cfg.DataDir != "" {
		idx, err := store.OpenThreadIndex(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			return nil, err
		}
		s.index = idx
	}

	s.driver = &thread.Driver{
		Widgets: widgets,
		DataDir: cfg.DataDir,
		OnFinished: func(threadID uuid.UUID, logPath string) {
			s.registry.Unregister(threadID)
			if s.index == nil || logPath == "" {
				return
			}
			if err := s.index.IndexLog(logPath); err != nil {
				log.Printf("component=server action=index_failed thread=%s err=%v", threadID, err)
			}
		},
	}

	s.router = s.buildRouter()
	return s, nil
}

// SetModelClientFactory overrides how model strings resolve to clients.
// Used by tests and embedders; nil keeps the default resolution.
func (s *Server) SetModelClientFactory(fn func(modelString string) (model.Client, error)) {
	s.driver.NewClient = fn
}

// SetStreamStallTimeout overrides how long /stream waits for the next event
// before declaring the worker unresponsive.
func (s *Server) SetStreamStallTimeout(d time.Duration) {
	if d > 0 {
		s.stallTimeout = d
	}
}

// Close releases the index database.
func (s *Server) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server on the configured bind address. Write
// timeout stays unset: /stream connections are long-lived.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	log.Printf("component=server action=listen addr=%s data_dir=%s", s.cfg.Bind, s.cfg.DataDir)
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Post("/stream", s.handleStream)
	r.Post("/halt", s.handleHalt)
	r.Get("/threads", s.handleListThreads)
	r.Get("/threads/{threadID}/transcript", s.handleTranscript)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.registry.Len()})
}

// handleStream validates the payload, spawns the worker, and drains the event
// queue as SSE until the sentinel or a disconnect.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": fmt.Sprintf("invalid JSON body: %v", err)})
		return
	}
	if req.UserInput == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "user_input is required"})
		return
	}

	th, err := s.driver.Open(req.ThreadProtocol, req.UserInput)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "streaming unsupported"})
		return
	}

	// The worker runs on its own context so a client disconnect cancels it
	// explicitly, with a bounded drain.
	workerCtx, cancel := context.WithCancel(context.Background())
	s.registry.Register(th.ID, cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		th.Run(workerCtx)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.drainSSE(r.Context(), w, flusher, th)

	cancel()
	select {
	case <-done:
	case <-time.After(workerDrainWait):
		log.Printf("component=server action=worker_abandoned thread=%s", th.ID)
	}
}

// drainSSE pumps queue items to the response as `data: <json>` frames and
// terminates with `data: [DONE]`.
func (s *Server) drainSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, th *thread.Thread) {
	items := make(chan protocol.Event)
	go func() {
		defer close(items)
		for {
			e, ok := th.Queue.Pop()
			if !ok {
				return
			}
			select {
			case items <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	timeout := time.NewTimer(s.stallTimeout)
	defer timeout.Stop()

	for {
		timeout.Reset(s.stallTimeout)
		select {
		case e, ok := <-items:
			if !ok {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("component=server action=marshal_event_failed thread=%s err=%v", th.ID, err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ctx.Done():
			log.Printf("component=server action=client_disconnected thread=%s", th.ID)
			return

		case <-timeout.C:
			errEvent, _ := json.Marshal(protocol.ErrorEvent(stallErrorText))
			fmt.Fprintf(w, "data: %s\n\n", errEvent)
			flusher.Flush()
			return
		}
	}
}

// handleHalt cancels a running thread by id.
func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": fmt.Sprintf("invalid JSON body: %v", err)})
		return
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "thread_id must be a UUID"})
		return
	}

	if s.registry.Cancel(threadID) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "cancelled",
			"thread_id": threadID.String(),
			"message":   "thread execution halted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "not_found",
		"thread_id": threadID.String(),
		"message":   "no running thread with that id",
	})
}

// handleListThreads serves rows from the SQLite index.
func (s *Server) handleListThreads(w http.ResponseWriter, _ *http.Request) {
	if s.index == nil {
		writeJSON(w, http.StatusOK, map[string]any{"threads": []store.ThreadRow{}})
		return
	}
	rows, err := s.index.List(100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	if rows == nil {
		rows = []store.ThreadRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": rows})
}

// handleTranscript renders a finished thread's text as HTML. The id must be a
// UUID, which also keeps the log path inside the data dir.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DataDir == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "persistence is disabled"})
		return
	}
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "thread id must be a UUID"})
		return
	}

	logPath := filepath.Join(s.cfg.DataDir, threadID.String()+".jsonl")
	html, err := RenderTranscript(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": "thread not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("component=server action=write_response_failed err=%v", err)
	}
}
