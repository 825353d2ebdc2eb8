package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bgricker/stagehand/internal/report"
	"github.com/bgricker/stagehand/internal/trigger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RunFunc executes one pipeline run for the given trigger event.
type RunFunc func(ctx context.Context, ev trigger.Event) (report.Summary, error)

// Options configure the webhook server.
type Options struct {
	RunFunc   RunFunc
	QueueSize int
	Logger    *slog.Logger
}

// Run tracks one webhook-triggered pipeline run.
type Run struct {
	ID         string          `json:"id"`
	Event      trigger.Event   `json:"event"`
	Status     report.Status   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    *report.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Server accepts webhook events, queues pipeline runs, and reports their
// status. A single worker drains the queue so runs execute one at a time.
type Server struct {
	opts  Options
	queue *Queue

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// New creates a Server. RunFunc is required.
func New(opts Options) (*Server, error) {
	if opts.RunFunc == nil {
		return nil, fmt.Errorf("server requires a run function")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:  opts,
		queue: NewQueue(opts.QueueSize),
		runs:  make(map[string]*Run),
	}, nil
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/webhook/push", s.handlePush)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

// Start drains the run queue until ctx is cancelled. It blocks; callers
// usually run it in a goroutine alongside the HTTP listener.
func (s *Server) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue.C():
			s.execute(ctx, id)
		}
	}
}

type pushPayload struct {
	ObjectKind string `json:"object_kind"`
	Ref        string `json:"ref"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var payload pushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if payload.Ref == "" {
		http.Error(w, "payload missing ref", http.StatusBadRequest)
		return
	}

	run := &Run{
		ID:        uuid.NewString(),
		Event:     trigger.FromRef(payload.Ref),
		Status:    report.StatusPending,
		CreatedAt: time.Now(),
	}

	// Registration and enqueue share one critical section: the worker must
	// find the run registered when it dequeues, and a rejected run must roll
	// back its own entry, not one appended by a concurrent handler.
	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	err := s.queue.Enqueue(run.ID)
	if err != nil {
		delete(s.runs, run.ID)
		s.order = s.order[:len(s.order)-1]
	}
	s.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.opts.Logger.Info("run queued", "run", run.ID, "event", run.Event.Type, "ref", run.Event.Ref)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	runs := make([]Run, 0, len(s.order))
	for _, id := range s.order {
		runs = append(runs, *s.runs[id])
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	run, ok := s.runs[id]
	var snapshot Run
	if ok {
		snapshot = *run
	}
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) execute(ctx context.Context, id string) {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	run.Status = report.StatusRunning
	run.StartedAt = &now
	ev := run.Event
	s.mu.Unlock()

	summary, err := s.opts.RunFunc(ctx, ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	finished := time.Now()
	run.FinishedAt = &finished
	run.Summary = &summary
	if err != nil {
		run.Status = report.StatusFailed
		run.Error = err.Error()
		s.opts.Logger.Warn("run failed", "run", id, "error", err)
		return
	}
	if summary.Status == report.RunFailed {
		run.Status = report.StatusFailed
	} else {
		run.Status = report.StatusSuccess
	}
	s.opts.Logger.Info("run finished", "run", id, "status", run.Status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.opts.Logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
