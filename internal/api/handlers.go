package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dipsniper/internal/backtest"
	"dipsniper/internal/engine"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
)

// RegisterRoutes registers all HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("GET /api/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/params", s.handleGetParams)
	mux.HandleFunc("PUT /api/params/{symbol}/{key}", s.handleSetParam)
	mux.HandleFunc("DELETE /api/params/{symbol}/{key}", s.handleDeleteParam)
	mux.HandleFunc("GET /api/params/stream", s.handleParamStream)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, strategy.ErrUnknownPreset), errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrNoData), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrMalformedSeries):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// parseRequest builds a backtest request from named parameters. Dates are
// YYYY-MM-DD; preset defaults to "basic" and cash to the server default.
func (s *Server) parseRequest(get func(string) string) (backtest.Request, error) {
	req := backtest.Request{
		Symbol:      strings.ToUpper(strings.TrimSpace(get("symbol"))),
		Market:      s.opts.Market,
		Preset:      get("preset"),
		InitialCash: s.opts.InitialCash,
	}
	if req.Symbol == "" {
		return req, fmt.Errorf("%w: symbol is required", errBadRequest)
	}
	if req.Preset == "" {
		req.Preset = "basic"
	}
	if m := get("market"); m != "" {
		req.Market = m
	}
	var err error
	if v := get("start"); v != "" {
		if req.Start, err = time.Parse("2006-01-02", v); err != nil {
			return req, fmt.Errorf("%w: start: %v", errBadRequest, err)
		}
	}
	if v := get("end"); v != "" {
		if req.End, err = time.Parse("2006-01-02", v); err != nil {
			return req, fmt.Errorf("%w: end: %v", errBadRequest, err)
		}
	}
	if v := get("cash"); v != "" {
		cash, err := strconv.ParseFloat(v, 64)
		if err != nil || cash <= 0 {
			return req, fmt.Errorf("%w: cash must be a positive number", errBadRequest)
		}
		req.InitialCash = cash
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string][]string{"presets": s.bt.Presets()})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query().Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.bt.Run(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if r.URL.Query().Get("equity") != "true" {
		res.Equity = nil
	}
	writeJSON(w, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	q := r.URL.Query()
	f := store.RunFilter{Symbol: strings.ToUpper(q.Get("symbol")), Preset: q.Get("preset"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameter store not configured")
		return
	}
	writeJSON(w, s.params.Snapshot())
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameter store not configured")
		return
	}
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		writeError(w, http.StatusBadRequest, `body must be {"value": <number>}`)
		return
	}
	symbol, key := r.PathValue("symbol"), r.PathValue("key")
	if err := s.params.Set(symbol, key, *body.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, s.params.Get(symbol))
}

func (s *Server) handleDeleteParam(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameter store not configured")
		return
	}
	s.params.Delete(r.PathValue("symbol"), r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}
