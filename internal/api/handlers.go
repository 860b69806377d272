// Package api exposes the knowledge engine over HTTP and MCP. Handlers
// degrade instead of failing: an empty knowledge base yields empty
// rankings and digests, never a 500.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lessonbase/llkb/internal/config"
	"github.com/lessonbase/llkb/internal/detect"
	"github.com/lessonbase/llkb/internal/knowledge"
	"github.com/lessonbase/llkb/internal/match"
	"github.com/lessonbase/llkb/internal/ranker"
	"github.com/lessonbase/llkb/internal/storage"
)

const maxRequestBodySize = 4 << 20 // 4MB

// Deps holds what the HTTP handlers need.
type Deps struct {
	Store  *storage.Store
	Config config.Config
	Logger *slog.Logger
	// Token enables bearer auth when non-empty.
	Token string
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/healthz", handleHealth)
	r.Get("/context", handleContext(deps))
	r.Post("/detect", handleDetect(deps))
	r.Post("/match", handleMatch(deps))

	r.Get("/lessons", handleListLessons(deps))
	r.Post("/lessons", handleSaveLesson(deps))
	r.Get("/lessons/{id}", handleGetLesson(deps))
	r.Post("/lessons/{id}/archive", handleArchiveLesson(deps))
	r.Post("/lessons/{id}/outcome", handleLessonOutcome(deps))

	r.Get("/components", handleListComponents(deps))
	r.Post("/components", handleSaveComponent(deps))
	r.Get("/components/{id}", handleGetComponent(deps))
	r.Post("/components/{id}/archive", handleArchiveComponent(deps))
	r.Post("/components/{id}/use", handleComponentUse(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ContextResponse carries the ranked context and its rendered digest.
type ContextResponse struct {
	Context ranker.Context `json:"context"`
	Digest  string         `json:"digest"`
}

func handleContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		journey := knowledge.Journey{
			ID:         q.Get("journey"),
			Scope:      q.Get("scope"),
			Title:      q.Get("title"),
			Routes:     splitParam(q.Get("routes")),
			Keywords:   splitParam(q.Get("keywords")),
			Categories: splitParam(q.Get("categories")),
		}

		snap, err := deps.Store.LoadSnapshot()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading knowledge: %v", err)
			return
		}

		ctx := ranker.Rank(journey, snap.Lessons, snap.Components,
			ranker.Options{PrioritizeByConfidence: deps.Config.Injection.PrioritizeByConfidence},
			snap.Profile, snap.SelectorPatterns, snap.TimingPatterns)

		writeJSON(w, http.StatusOK, ContextResponse{
			Context: ctx,
			Digest:  ranker.Digest(ctx),
		})
	}
}

// DetectRequest is a batch of fragments to cluster.
type DetectRequest struct {
	Fragments []detect.Fragment `json:"fragments"`
}

func handleDetect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DetectRequest
		if !decodeBody(w, r, &req) {
			return
		}

		components, err := deps.Store.ListComponents(false)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading components: %v", err)
			return
		}

		candidates := detect.FindExtractionCandidates(req.Fragments, components, detectOptions(deps.Config))
		if candidates == nil {
			candidates = []detect.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
	}
}

// MatchRequest is a batch of steps to match against stored components.
type MatchRequest struct {
	Steps []match.Step `json:"steps"`
}

func handleMatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MatchRequest
		if !decodeBody(w, r, &req) {
			return
		}

		components, err := deps.Store.ListComponents(false)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading components: %v", err)
			return
		}

		recs := match.MatchSteps(req.Steps, components, matchOptions(deps.Config))
		if recs == nil {
			recs = []match.Recommendation{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
	}
}

func handleListLessons(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeArchived := r.URL.Query().Get("include_archived") == "true"
		lessons, err := deps.Store.ListLessons(includeArchived)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing lessons: %v", err)
			return
		}
		if lessons == nil {
			lessons = []knowledge.Lesson{}
		}
		writeJSON(w, http.StatusOK, lessons)
	}
}

func handleSaveLesson(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var l knowledge.Lesson
		if !decodeBody(w, r, &l) {
			return
		}
		saved, err := deps.Store.SaveLesson(l)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "saving lesson: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleGetLesson(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Store.GetLesson(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "lesson not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting lesson: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleArchiveLesson(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.ArchiveLesson(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "lesson not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "archiving lesson: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
	}
}

// OutcomeRequest records one observed use of a lesson or component.
type OutcomeRequest struct {
	Success bool `json:"success"`
}

func handleLessonOutcome(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OutcomeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		l, err := deps.Store.RecordLessonOutcome(chi.URLParam(r, "id"), req.Success, time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "lesson not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording outcome: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleListComponents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeArchived := r.URL.Query().Get("include_archived") == "true"
		components, err := deps.Store.ListComponents(includeArchived)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing components: %v", err)
			return
		}
		if components == nil {
			components = []knowledge.Component{}
		}
		writeJSON(w, http.StatusOK, components)
	}
}

func handleSaveComponent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c knowledge.Component
		if !decodeBody(w, r, &c) {
			return
		}
		saved, err := deps.Store.SaveComponent(c)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "saving component: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleGetComponent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetComponent(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "component not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting component: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleArchiveComponent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.ArchiveComponent(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "component not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "archiving component: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
	}
}

func handleComponentUse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OutcomeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Store.RecordComponentUse(chi.URLParam(r, "id"), req.Success)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "component not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording use: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// --- helpers ---

func detectOptions(cfg config.Config) detect.Options {
	return detect.Options{
		SimilarityThreshold:  cfg.Extraction.SimilarityThreshold,
		MinOccurrences:       cfg.Extraction.MinOccurrences,
		MinLines:             cfg.Extraction.MinLinesForExtraction,
		PredictiveExtraction: cfg.Extraction.PredictiveExtraction,
	}
}

func matchOptions(cfg config.Config) match.Options {
	return match.Options{
		UseThreshold:     cfg.Matching.UseThreshold,
		SuggestThreshold: cfg.Matching.SuggestThreshold,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
