package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"flowci/internal/config"
	"flowci/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// runState tracks one submitted pipeline run
type runState struct {
	ID     string         `json:"id"`
	Branch string         `json:"branch"`
	Status engine.Status  `json:"status"`
	Jobs   []jobStateView `json:"jobs,omitempty"`
}

type jobStateView struct {
	Name   string        `json:"name"`
	Status engine.Status `json:"status"`
	Steps  int           `json:"steps"`
}

type Server struct {
	mu   sync.Mutex
	runs map[string]*runState
	opts engine.Options
}

func NewServer(opts engine.Options) *Server {
	return &Server{
		runs: make(map[string]*runState),
		opts: opts,
	}
}

// POST /pipelines -> submit a pipeline YAML and start a run in the background
func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	pipeline, err := config.ParsePipeline(data)
	if err != nil {
		http.Error(w, "invalid pipeline: "+err.Error(), http.StatusBadRequest)
		return
	}

	branch := r.URL.Query().Get("branch")
	if branch == "" {
		branch = "master"
	}

	id := uuid.NewString()
	state := &runState{ID: id, Branch: branch, Status: engine.StatusPending}

	s.mu.Lock()
	s.runs[id] = state
	s.mu.Unlock()

	go s.execute(state, pipeline)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(engine.StatusPending)})
}

func (s *Server) execute(state *runState, pipeline *config.Pipeline) {
	s.mu.Lock()
	state.Status = engine.StatusRunning
	s.mu.Unlock()

	eng := engine.New(s.opts)
	result := eng.Run(pipeline, state.Branch)

	s.mu.Lock()
	defer s.mu.Unlock()
	state.Status = result.Status
	for _, job := range result.Jobs {
		state.Jobs = append(state.Jobs, jobStateView{
			Name:   job.Name,
			Status: job.Status,
			Steps:  len(job.Steps),
		})
	}
}

// snapshot copies a run state so handlers never encode memory the executing
// goroutine still mutates. Caller must hold s.mu.
func snapshot(state *runState) runState {
	view := *state
	view.Jobs = append([]jobStateView(nil), state.Jobs...)
	return view
}

// GET /runs/{id} -> status of one run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	state, ok := s.runs[id]
	var view runState
	if ok {
		view = snapshot(state)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GET /runs -> list known runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]runState, 0, len(s.runs))
	for _, state := range s.runs {
		list = append(list, snapshot(state))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// routes mounts the HTTP API
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/pipelines", s.handleSubmitPipeline)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

func main() {
	workspace := os.Getenv("FLOWCI_WORKSPACE")
	if workspace == "" {
		workspace = "."
	}
	dataDir := os.Getenv("FLOWCI_DATA_DIR")
	if dataDir == "" {
		dataDir = ".flowci"
	}

	s := NewServer(engine.Options{
		Workspace:   workspace,
		WorkDir:     dataDir + "/work",
		CacheDir:    dataDir + "/cache",
		LogDir:      dataDir + "/logs",
		HistoryPath: dataDir + "/history.jsonl",
		StepTimeout: 5 * time.Minute,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	fmt.Println("flowci server running on port", port)
	if err := http.ListenAndServe(":"+port, s.routes()); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}
