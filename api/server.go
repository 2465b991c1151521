// Package api exposes the materialized task view over HTTP. Strictly
// read-only: the view is derived state, so nothing here can move funds or
// advance a task.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/go-chi/chi/v5"

	"github.com/ratnathegod/satellite-sla-marketplace/escrow"
	"github.com/ratnathegod/satellite-sla-marketplace/events"
)

type Config struct {
	ListenAddr      string        `json:"listenAddr" yaml:"listenAddr"`
	ReadTimeout     time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address not set")
	}
	return nil
}

// ViewSource is what the server reads from; the indexer's Syncer satisfies
// it.
type ViewSource interface {
	View() *events.View
	Events() []events.Decoded
	LastScanned() uint64
}

// HealthSource reports daemon health; the indexer's Monitor satisfies it.
type HealthSource interface {
	Healthy() bool
}

// ManifestSource serves manifest content by handle; the content package's
// Prefetcher satisfies it.
type ManifestSource interface {
	Manifest(ctx context.Context, ref string) ([]byte, error)
}

type Server struct {
	config    *Config
	source    ViewSource
	health    HealthSource
	manifests ManifestSource
	log       logging.Logger
	http      *http.Server
}

func NewServer(
	config *Config,
	source ViewSource,
	health HealthSource,
	manifests ManifestSource,
	log logging.Logger,
) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		source:    source,
		health:    health,
		manifests: manifests,
		log:       log,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{id}", s.handleTask)
		r.Get("/tasks/{id}/manifest", s.handleManifest)
		r.Get("/events", s.handleEvents)
	})

	s.http = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

// Start serves until Shutdown; it blocks.
func (s *Server) Start() error {
	s.log.Info(fmt.Sprintf("api listening on %s", s.config.ListenAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Message: "indexer is healthy"}
	code := http.StatusOK
	if s.health != nil && !s.health.Healthy() {
		resp = healthResponse{Status: "degraded", Message: "resource thresholds exceeded"}
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

type tasksResponse struct {
	Tasks       []taskView `json:"tasks"`
	LastScanned uint64     `json:"lastScannedBlock"`
}

// taskView is the wire shape consumed by display collaborators.
type taskView struct {
	ID            uint64 `json:"id"`
	Requester     string `json:"requester"`
	Operator      string `json:"operator,omitempty"`
	PaymentToken  string `json:"paymentToken"`
	Amount        uint64 `json:"amount"`
	Deadline      uint64 `json:"deadline"`
	ProofDeadline uint64 `json:"proofDeadline"`
	Status        string `json:"status"`
	ManifestRef   string `json:"manifestRef"`
	ProofRef      string `json:"proofRef,omitempty"`
}

func toTaskView(t escrow.Task) taskView {
	view := taskView{
		ID:            t.ID,
		Requester:     t.Requester.String(),
		PaymentToken:  t.PaymentToken.String(),
		Amount:        t.Amount,
		Deadline:      t.Deadline,
		ProofDeadline: t.ProofDeadline,
		Status:        t.Status.String(),
		ManifestRef:   t.ManifestRef,
		ProofRef:      t.ProofRef,
	}
	if t.HasOperator() {
		view.Operator = t.Operator.String()
	}
	return view
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.source.View().Tasks()
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskView(t))
	}
	s.writeJSON(w, http.StatusOK, tasksResponse{
		Tasks:       out,
		LastScanned: s.source.LastScanned(),
	})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, ok := s.source.View().Task(id)
	if !ok {
		http.Error(w, "task not found in scanned window", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, toTaskView(task))
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifests == nil {
		http.Error(w, "manifest serving disabled", http.StatusNotImplemented)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, ok := s.source.View().Task(id)
	if !ok {
		http.Error(w, "task not found in scanned window", http.StatusNotFound)
		return
	}

	data, err := s.manifests.Manifest(r.Context(), task.ManifestRef)
	if err != nil {
		s.log.Warn(fmt.Sprintf("manifest %s for task %d unavailable: %v", task.ManifestRef, id, err))
		http.Error(w, "manifest unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		s.log.Error(fmt.Sprintf("failed to write manifest response: %v", err))
	}
}

type eventView struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	LogIndex    uint32 `json:"logIndex"`
	EventName   string `json:"eventName"`
	TaskID      uint64 `json:"taskId,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	decoded := s.source.Events()
	out := make([]eventView, 0, len(decoded))
	for _, d := range decoded {
		ev := eventView{
			BlockNumber: d.BlockNumber,
			TxHash:      d.TxHash.String(),
			LogIndex:    d.LogIndex,
			EventName:   d.Name,
		}
		if d.HasTaskID {
			ev.TaskID = d.TaskID
		}
		out = append(out, ev)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(fmt.Sprintf("failed to encode response: %v", err))
	}
}
