package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engramdb/engram/internal/engine"
)

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content     string   `json:"content"`
		Category    string   `json:"category"`
		Importance  *float64 `json:"importance"`
		Pinned      bool     `json:"pinned"`
		Source      string   `json:"source"`
		Entities    []string `json:"entities"`
		Contradicts string   `json:"contradicts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	m, err := s.engine.Add(r.Context(), engine.AddOpts{
		Content:     req.Content,
		Category:    req.Category,
		Importance:  req.Importance,
		Pinned:      req.Pinned,
		Source:      req.Source,
		Entities:    req.Entities,
		Contradicts: req.Contradicts,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Get(chi.URLParam(r, "memoryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Forget(chi.URLParam(r, "memoryID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pin(chi.URLParam(r, "memoryID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pinned"})
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unpin(chi.URLParam(r, "memoryID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unpinned"})
}

func (s *Server) handleSupersede(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	m, err := s.engine.Supersede(r.Context(), chi.URLParam(r, "memoryID"), req.Content, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	links, err := s.engine.HebbianLinks(id)
	if err != nil {
		writeError(w, err)
		return
	}

	type linkJSON struct {
		MemoryID          string  `json:"memory_id"`
		Strength          float64 `json:"strength"`
		CoactivationCount int     `json:"coactivation_count"`
	}
	out := make([]linkJSON, len(links))
	for i, l := range links {
		other := l.SourceID
		if other == id {
			other = l.TargetID
		}
		out[i] = linkJSON{other, l.Strength, l.CoactivationCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": id, "links": out})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}

	opts := engine.RecallOpts{
		NoExpand: q.Get("no_expand") == "true",
		NoTouch:  q.Get("no_touch") == "true",
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if c := q.Get("categories"); c != "" {
		opts.Categories = strings.Split(c, ",")
	}
	if l := q.Get("layers"); l != "" {
		opts.Layers = strings.Split(l, ",")
	}
	if kw := q.Get("context"); kw != "" {
		opts.ContextKeywords = strings.Split(kw, ",")
	}
	if v := q.Get("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MinConfidence = f
		}
	}
	if v := q.Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.Since = ms
		}
	}
	if v := q.Get("until"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.Until = ms
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results, err := s.engine.Recall(ctx, query, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	days := 1.0
	var req struct {
		Days *float64 `json:"days"`
	}
	// An empty body means one simulated day.
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Days != nil {
		days = *req.Days
	}

	rep, err := s.engine.Consolidate(days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Feedback == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feedback required"})
		return
	}

	rep, err := s.engine.Reward(req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDownscale(w http.ResponseWriter, r *http.Request) {
	factor := s.engine.Params.DownscaleFactor
	var req struct {
		Factor *float64 `json:"factor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Factor != nil {
		factor = *req.Factor
	}

	stats, err := s.engine.Downscale(factor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
