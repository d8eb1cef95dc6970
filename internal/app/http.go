package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reportdesk/api/internal/export"
	"reportdesk/api/internal/report"
	"reportdesk/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(requestLogger(&s.logger, s.corsOrigin))
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/search", s.handleSearch)

		r.Route("/reports/{id}", func(r chi.Router) {
			r.Get("/", s.handleState)
			r.Delete("/", s.handleCloseEditor)
			r.Post("/open", s.handleOpen)
			r.Get("/sections", s.handleSections)
			r.Post("/sections/{section}/mount", s.handleMount)
			r.Delete("/sections/{section}/mount", s.handleUnmount)
			r.Put("/sections/{section}", s.handleSchedule)
			r.Post("/sections/{section}/flush", s.handleFlush)
			r.Post("/switch", s.handleSwitch)
			r.Post("/save", s.handleSaveAll)
			r.Post("/approve", s.handleApprove)
			r.Get("/history", s.handleHistory)
			r.Get("/snapshots", s.handleSnapshots)
			r.Get("/snapshots/compare", s.handleCompare)
			r.Get("/snapshots/{version}", s.handleSnapshot)
			r.Get("/snapshots/{version}/export", s.handleExport)
		})
	})
	return router
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	editor, created, err := s.service.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, stateOf(editor))
}

func (s *HTTPServer) handleCloseEditor(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.service.CloseEditor(chi.URLParam(r, "id"), force); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.State(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.service.Sections(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (s *HTTPServer) handleMount(w http.ResponseWriter, r *http.Request) {
	section, ok := sectionParam(w, r)
	if !ok {
		return
	}
	if err := s.service.Mount(chi.URLParam(r, "id"), section); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": section, "mounted": true})
}

func (s *HTTPServer) handleUnmount(w http.ResponseWriter, r *http.Request) {
	section, ok := sectionParam(w, r)
	if !ok {
		return
	}
	if err := s.service.Unmount(chi.URLParam(r, "id"), section); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": section, "mounted": false})
}

func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	section, ok := sectionParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Payload json.RawMessage `json:"payload"`
		DelayMs int             `json:"delayMs"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.DelayMs < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "delayMs must not be negative", nil)
		return
	}
	delay := time.Duration(body.DelayMs) * time.Millisecond
	if err := s.service.Schedule(chi.URLParam(r, "id"), section, body.Payload, delay); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"section": section, "scheduled": true})
}

func (s *HTTPServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	section, ok := sectionParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.service.Flush(r.Context(), id, section); err != nil {
		writeDomainError(w, r, err)
		return
	}
	state, err := s.service.State(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target string `json:"target"`
		Choice string `json:"choice"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	target, err := report.ParseSectionID(body.Target)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var choice *report.Choice
	if body.Choice != "" {
		parsed, err := report.ParseChoice(body.Choice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		choice = &parsed
	}
	switched, err := s.service.Switch(r.Context(), chi.URLParam(r, "id"), target, choice)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	state, err := s.service.State(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"switched": switched, "state": state})
}

func (s *HTTPServer) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.service.SaveAll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var aborted *report.AggregateSaveAbortedError
		if errors.As(err, &aborted) {
			writeError(w, http.StatusConflict, "SAVE_ABORTED", err.Error(), map[string]any{
				"outcomes": outcomes,
				"failed":   aborted.Sections(),
			})
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	entries, err := s.service.History(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	metas, err := s.service.Snapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": metas})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, chi.URLParam(r, "version"), "version")
	if !ok {
		return
	}
	snap, err := s.service.Snapshot(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	from, ok := versionParam(w, r.URL.Query().Get("from"), "from")
	if !ok {
		return
	}
	to, ok := versionParam(w, r.URL.Query().Get("to"), "to")
	if !ok {
		return
	}
	changes, err := s.service.Compare(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "changes": changes})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, chi.URLParam(r, "version"), "version")
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "format must be pdf, docx or html", nil)
		return
	}
	result, err := s.service.Export(r.Context(), export.Request{
		DocumentID: chi.URLParam(r, "id"),
		Version:    version,
		Format:     format,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:       text,
		DocumentID: query.Get("documentId"),
		Limit:      limit,
		Offset:     offset,
	}))
}

func sectionParam(w http.ResponseWriter, r *http.Request) (report.SectionID, bool) {
	section, err := report.ParseSectionID(chi.URLParam(r, "section"))
	if err != nil {
		writeDomainError(w, r, err)
		return "", false
	}
	return section, true
}

func versionParam(w http.ResponseWriter, raw, name string) (int, bool) {
	version, err := strconv.Atoi(raw)
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a positive integer", nil)
		return 0, false
	}
	return version, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
