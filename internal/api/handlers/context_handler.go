package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/ragline/ragline/internal/api/middlewares"
	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/models"
	"github.com/ragline/ragline/internal/services"
)

type ContextHandler struct {
	contexts *services.ContextService
}

func NewContextHandler(contexts *services.ContextService) *ContextHandler {
	return &ContextHandler{contexts: contexts}
}

type createContextRequest struct {
	Name        string `json:"name"`
	SourceKind  string `json:"source_kind"`
	SourcePath  string `json:"source_path,omitempty"`
	SourceTable string `json:"source_table,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	MaxChars    int    `json:"max_chunk_chars,omitempty"`
	Overlap     int    `json:"overlap_chars,omitempty"`
}

func (h *ContextHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	kc, err := h.contexts.Create(r.Context(), userID, services.CreateRequest{
		Name:        req.Name,
		SourceKind:  req.SourceKind,
		SourcePath:  req.SourcePath,
		SourceTable: req.SourceTable,
		Strategy:    req.Strategy,
		MaxChars:    req.MaxChars,
		Overlap:     req.Overlap,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, kc)
}

func (h *ContextHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	out, err := h.contexts.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.Context{}
	}
	writeJSON(w, http.StatusOK, out)
}

// owned loads the context from the URL and enforces ownership.
func (h *ContextHandler) owned(w http.ResponseWriter, r *http.Request) *models.Context {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil
	}
	kc, err := h.contexts.Get(r.Context(), chi.URLParam(r, "context_id"))
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return nil
	}
	if kc == nil || kc.UserID != userID {
		http.Error(w, "context not found", http.StatusNotFound)
		return nil
	}
	return kc
}

// Status reports the lifecycle state, progress, and totals.
func (h *ContextHandler) Status(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            kc.ID,
		"status":        kc.Status,
		"progress":      kc.Progress,
		"chunk_count":   kc.ChunkCount,
		"token_count":   kc.TokenCount,
		"error_message": kc.ErrorMessage,
	})
}

// Upload accepts one multipart file for a files-kind context.
func (h *ContextHandler) Upload(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.contexts.Upload(r.Context(), kc, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// Ingest kicks off initial processing.
func (h *ContextHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}
	if err := h.contexts.Ingest(kc); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": models.StatusProcessing})
}

// Reprocess re-runs the pipeline for a ready context.
func (h *ContextHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}
	if err := h.contexts.Reprocess(kc); err != nil {
		status := http.StatusConflict
		if errors.Is(err, core.ErrContextNotReady) {
			status = http.StatusPreconditionFailed
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": models.StatusProcessing})
}

// Cancel aborts an in-flight run.
func (h *ContextHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}
	if !h.contexts.Cancel(kc) {
		http.Error(w, "context is not processing", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *ContextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kc := h.owned(w, r)
	if kc == nil {
		return
	}
	if err := h.contexts.Delete(r.Context(), kc); err != nil {
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
