// Package api exposes the process API over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/manager"
	"github.com/puddle-lab/puddle/sim/store"
)

const defaultHistoryFrames = 20

// HandlerConfig selects the optional endpoints.
type HandlerConfig struct {
	Gatherer prometheus.Gatherer // serves /metrics when set
	History  store.SnapshotStore // serves /visualizer/history when set
}

// Server translates HTTP requests into manager calls.
type Server struct {
	Manager *manager.Manager
	History store.SnapshotStore
}

// NewHandler builds the router.
func NewHandler(m *manager.Manager, cfg HandlerConfig) http.Handler {
	s := &Server{Manager: m, History: cfg.History}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/visualizer", s.Visualizer)
	if cfg.History != nil {
		r.Get("/visualizer/history", s.VisualizerHistory)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/processes", func(r chi.Router) {
		r.Get("/", s.ListProcesses)
		r.Post("/", s.NewProcess)
		r.Route("/{pid}", func(r chi.Router) {
			r.Delete("/", s.CloseProcess)
			r.Get("/droplets", s.Droplets)
			r.Post("/create", s.Create)
			r.Post("/input", s.Input)
			r.Post("/output", s.Output)
			r.Post("/move", s.Move)
			r.Post("/mix", s.Mix)
			r.Post("/combine_into", s.CombineInto)
			r.Post("/agitate", s.Agitate)
			r.Post("/split", s.Split)
			r.Post("/heat", s.Heat)
			r.Post("/flush", s.Flush)
		})
	})
	return r
}

type newProcessRequest struct {
	Name string `json:"name"`
}

type processResponse struct {
	ID   sim.ProcessID `json:"id"`
	Name string        `json:"name"`
}

type createRequest struct {
	Location   *sim.Location `json:"location"`
	Volume     float64       `json:"volume"`
	Dimensions *sim.Location `json:"dimensions"`
}

type inputRequest struct {
	Substance  string        `json:"substance"`
	Volume     float64       `json:"volume"`
	Dimensions *sim.Location `json:"dimensions"`
}

type outputRequest struct {
	Substance string        `json:"substance"`
	Droplet   sim.DropletID `json:"droplet"`
}

type moveRequest struct {
	Droplet  sim.DropletID `json:"droplet"`
	Location sim.Location  `json:"location"`
}

type pairRequest struct {
	A sim.DropletID `json:"a"`
	B sim.DropletID `json:"b"`
}

type agitateRequest struct {
	Droplet sim.DropletID `json:"droplet"`
	Loops   *int          `json:"loops"`
}

type dropletRequest struct {
	Droplet sim.DropletID `json:"droplet"`
}

type heatRequest struct {
	Droplet     sim.DropletID `json:"droplet"`
	Temperature float64       `json:"temperature"`
	Seconds     float64       `json:"seconds"`
}

type dropletResponse struct {
	Droplet sim.DropletID `json:"droplet"`
}

type splitResponse struct {
	Droplets [2]sim.DropletID `json:"droplets"`
}

type visualizerResponse struct {
	Tick     int64             `json:"tick"`
	Droplets []sim.DropletInfo `json:"droplets"`
}

// errorResponse carries Droplet when the command failed after its droplet was
// already committed to the grid.
type errorResponse struct {
	Error   string         `json:"error"`
	Droplet *sim.DropletID `json:"droplet,omitempty"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrProcessNotFound), errors.Is(err, sim.ErrDropletNotFound):
		return http.StatusNotFound
	case sim.IsPlacementFailure(err):
		return http.StatusConflict
	case errors.Is(err, sim.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorResponse(w, r, err, errorResponse{Error: err.Error()})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, err error, resp errorResponse) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logrus.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, resp)
}

// decode reads a strict JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// process resolves the {pid} URL parameter to an open process.
func (s *Server) process(w http.ResponseWriter, r *http.Request) (*manager.Process, bool) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid process id %q", raw)})
		return nil, false
	}
	p, err := s.Manager.Process(sim.ProcessID(pid))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return p, true
}

// Visualizer handles GET /visualizer.
func (s *Server) Visualizer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, visualizerResponse{
		Tick:     s.Manager.CurrentTick(),
		Droplets: s.Manager.VisualizerDropletInfo(),
	})
}

// VisualizerHistory handles GET /visualizer/history?n=N, newest frame first.
func (s *Server) VisualizerHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryFrames
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid frame count %q", raw)})
			return
		}
		n = v
	}
	frames, err := s.History.History(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if frames == nil {
		frames = []store.Frame{}
	}
	writeJSON(w, http.StatusOK, frames)
}

// ListProcesses handles GET /processes.
func (s *Server) ListProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.Processes())
}

// NewProcess handles POST /processes.
func (s *Server) NewProcess(w http.ResponseWriter, r *http.Request) {
	var body newProcessRequest
	if !decode(w, r, &body) {
		return
	}
	p := s.Manager.GetNewProcess(body.Name)
	writeJSON(w, http.StatusCreated, processResponse{ID: p.ID(), Name: p.Name()})
}

// CloseProcess handles DELETE /processes/{pid}.
func (s *Server) CloseProcess(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Droplets handles GET /processes/{pid}/droplets without waiting for the queue.
func (s *Server) Droplets(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	info, err := p.DropletInfo()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(info))
}

func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body createRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.Create(body.Location, body.Volume, body.Dimensions)
	respondDroplet(w, r, id, err)
}

func (s *Server) Input(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body inputRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.Input(body.Substance, body.Volume, body.Dimensions)
	respondDroplet(w, r, id, err)
}

func (s *Server) Output(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body outputRequest
	if !decode(w, r, &body) {
		return
	}
	if err := p.Output(body.Substance, body.Droplet); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Move(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body moveRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.Move(body.Droplet, body.Location)
	respondDroplet(w, r, id, err)
}

func (s *Server) Mix(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body pairRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.Mix(body.A, body.B)
	respondDroplet(w, r, id, err)
}

func (s *Server) CombineInto(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body pairRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.CombineInto(body.A, body.B)
	respondDroplet(w, r, id, err)
}

// Agitate handles POST /processes/{pid}/agitate. Loops defaults to one.
func (s *Server) Agitate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body agitateRequest
	if !decode(w, r, &body) {
		return
	}
	loops := 1
	if body.Loops != nil {
		loops = *body.Loops
	}
	id, err := p.Agitate(body.Droplet, loops)
	respondDroplet(w, r, id, err)
}

func (s *Server) Split(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body dropletRequest
	if !decode(w, r, &body) {
		return
	}
	a, b, err := p.Split(body.Droplet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, splitResponse{Droplets: [2]sim.DropletID{a, b}})
}

func (s *Server) Heat(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	var body heatRequest
	if !decode(w, r, &body) {
		return
	}
	id, err := p.Heat(body.Droplet, body.Temperature, body.Seconds)
	respondDroplet(w, r, id, err)
}

// Flush handles POST /processes/{pid}/flush.
func (s *Server) Flush(w http.ResponseWriter, r *http.Request) {
	p, ok := s.process(w, r)
	if !ok {
		return
	}
	info, err := p.Flush()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(info))
}

func respondDroplet(w http.ResponseWriter, r *http.Request, id sim.DropletID, err error) {
	if err != nil {
		resp := errorResponse{Error: err.Error()}
		if id != (sim.DropletID{}) {
			resp.Droplet = &id
		}
		writeErrorResponse(w, r, err, resp)
		return
	}
	writeJSON(w, http.StatusOK, dropletResponse{Droplet: id})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil(info []sim.DropletInfo) []sim.DropletInfo {
	if info == nil {
		return []sim.DropletInfo{}
	}
	return info
}
