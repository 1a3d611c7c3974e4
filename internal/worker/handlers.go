package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsify/internal/clustering"
	gormdb "github.com/thebtf/newsify/internal/db/gorm"
	"github.com/thebtf/newsify/internal/scheduler"
	"github.com/thebtf/newsify/pkg/models"
)

// Handler configuration constants
const (
	// DefaultClustersLimit is the default number of clusters to return.
	DefaultClustersLimit = 50

	// MaxClustersLimit caps the limit query parameter.
	MaxClustersLimit = 500
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store error kinds onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, gormdb.ErrUnavailable), errors.Is(err, clustering.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleHealth reports database and scheduler health. Returns 503 when the
// database is unhealthy.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	resp := map[string]interface{}{
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.deps.Health != nil {
		info := s.deps.Health.HealthCheck(r.Context())
		resp["database"] = info
		if info.Status == "unhealthy" {
			status = "unhealthy"
		} else if info.Status == "degraded" {
			status = "degraded"
		}
	}
	if s.deps.Runs != nil {
		resp["scheduler"] = s.deps.Runs.Status()
	}
	resp["status"] = status

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, resp)
}

// handleVersion returns the worker version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version": s.version,
	})
}

// handleStats returns document counts and the last run status.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	assigned, unassigned, err := s.deps.Documents.CountDocuments(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := map[string]interface{}{
		"documents_assigned":   assigned,
		"documents_unassigned": unassigned,
	}
	if s.deps.Runs != nil {
		resp["scheduler"] = s.deps.Runs.Status()
	}
	if s.deps.Maintenance != nil {
		resp["maintenance"] = s.deps.Maintenance.Stats()
	}
	writeJSON(w, resp)
}

// handleSaveDocument ingests one document as unassigned.
func (s *Service) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Assignment and embeddings are owned by the clustering engine.
	doc.ClusterRef = models.Unassigned
	doc.Embedding = nil

	if doc.Summary == "" && s.deps.Summaries != nil {
		summary, err := s.deps.Summaries.SummarizeDocument(r.Context(), doc)
		if err != nil {
			log.Warn().Err(err).Str("document", doc.Ref().String()).Msg("Document summary failed, saving without one")
		} else {
			doc.Summary = summary
		}
	}

	if err := s.deps.Documents.SaveDocument(r.Context(), &doc); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]string{
		"id":        doc.ID,
		"source_id": doc.SourceID,
		"status":    "unassigned",
	})
}

// handleGetDocument returns one document.
func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ref := models.DocumentRef{
		SourceID:   chi.URLParam(r, "source"),
		DocumentID: chi.URLParam(r, "id"),
	}
	doc, err := s.deps.Documents.GetDocument(r.Context(), ref)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, doc)
}

// handleListClusters returns clusters, most recently updated first.
func (s *Service) handleListClusters(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", DefaultClustersLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, MaxClustersLimit)
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	clusters, err := s.deps.Clusters.ListClusters(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if clusters == nil {
		clusters = []models.Cluster{}
	}
	writeJSON(w, map[string]interface{}{
		"clusters": clusters,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleGetCluster returns one cluster with its member log.
func (s *Service) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.deps.Clusters.GetCluster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, cluster)
}

// handleTriggerRun executes one clustering run and returns its report.
func (s *Service) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}

	report, err := s.deps.Runs.RunOnce(s.ctx)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeStoreError(w, err)
	default:
		writeJSON(w, report)
	}
}

// handleLastRun returns the scheduler status.
func (s *Service) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}
	writeJSON(w, s.deps.Runs.Status())
}

// handleRunMaintenance runs store housekeeping and returns the updated stats.
func (s *Service) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		writeError(w, http.StatusServiceUnavailable, "maintenance is not enabled")
		return
	}
	s.deps.Maintenance.RunNow(s.ctx)
	writeJSON(w, s.deps.Maintenance.Stats())
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(raw)
}
