// Package api serves element records and the undo history over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/editor/state"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Renderer is implemented by surfaces that can serialize their document.
type Renderer interface {
	HTML() (string, error)
}

// Handlers implements the HTTP endpoints over a state.Manager. When a
// surface is attached, every change is also applied to its document.
type Handlers struct {
	log     *zap.Logger
	manager *state.Manager

	// doc serializes multi-step writes to surface.
	doc     sync.Mutex
	surface browser.Surface
}

// NewHandlers creates handlers for manager. surface may be nil.
func NewHandlers(logger *zap.Logger, manager *state.Manager, surface browser.Surface) *Handlers {
	return &Handlers{
		log:     logger.Named("api"),
		manager: manager,
		surface: surface,
	}
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/elements", func(r chi.Router) {
			r.Get("/", h.HandleListElements)
			r.Post("/", h.HandleSaveElement)
			r.Put("/", h.HandleBatchSave)
			r.Delete("/", h.HandleDeleteElement)
			r.Get("/{id}", h.HandleGetElement)
			r.Delete("/{id}", h.HandleDeleteElement)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.HandleHistory)
			r.Delete("/", h.HandleClearHistory)
			r.Post("/undo", h.HandleUndo)
			r.Post("/redo", h.HandleRedo)
		})
		r.Post("/restore", h.HandleRestore)
	})
	r.Get("/page", h.HandlePage)
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleListElements lists the records of ?pageId=, or of the current page.
func (h *Handlers) HandleListElements(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("pageId")
	if page == "" {
		page = h.manager.Page()
	}
	states := h.manager.StatesFor(page)
	count := len(states)
	h.respond(w, http.StatusOK, Response{Success: true, Data: states, Count: &count})
}

func (h *Handlers) HandleGetElement(w http.ResponseWriter, r *http.Request) {
	st, ok := h.manager.GetState(chi.URLParam(r, "id"))
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "Element not found")
		return
	}
	h.respond(w, http.StatusOK, Response{Success: true, Data: st})
}

// HandleSaveElement stores one record. ?history=false skips the undo
// stack.
func (h *Handlers) HandleSaveElement(w http.ResponseWriter, r *http.Request) {
	var st state.ElementState
	if err := h.decode(w, r, &st); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if st.ID == "" {
		h.respondWithError(w, http.StatusBadRequest, "Missing element id")
		return
	}
	record := true
	if v := r.URL.Query().Get("history"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid history flag %q", v))
			return
		}
		record = b
	}

	if err := h.manager.SaveState(r.Context(), st, record); err != nil {
		h.log.Error("Failed to save element state", zap.String("element_id", st.ID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Failed to save element state")
		return
	}
	h.sync(st.ID)
	saved, _ := h.manager.GetState(st.ID)
	h.respond(w, http.StatusOK, Response{Success: true, Data: saved})
}

// HandleBatchSave stores several records. Each record is one history step.
func (h *Handlers) HandleBatchSave(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.States == nil {
		h.respondWithError(w, http.StatusBadRequest, "States must be an array")
		return
	}

	results := make([]BatchResult, 0, len(req.States))
	for _, st := range req.States {
		if st.ID == "" {
			results = append(results, BatchResult{ID: "unknown", Error: "missing element id"})
			continue
		}
		if err := h.manager.SaveState(r.Context(), st, true); err != nil {
			results = append(results, BatchResult{ID: st.ID, Error: err.Error()})
			continue
		}
		h.sync(st.ID)
		results = append(results, BatchResult{ID: st.ID, Success: true})
	}
	h.respond(w, http.StatusOK, BatchResponse{Success: true, Results: results})
}

// HandleDeleteElement removes the record named by the path or ?id=.
func (h *Handlers) HandleDeleteElement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		h.respondWithError(w, http.StatusBadRequest, "Missing element id")
		return
	}
	deleted := h.manager.DeleteState(r.Context(), id)
	if deleted {
		h.sync(id)
	}
	h.respond(w, http.StatusOK, DeleteResponse{Success: true, Deleted: deleted})
}

func (h *Handlers) history(withEntries bool) HistoryStatus {
	entries, index := h.manager.History()
	status := HistoryStatus{
		CanUndo: h.manager.CanUndo(),
		CanRedo: h.manager.CanRedo(),
		Index:   index,
		Length:  len(entries),
	}
	if withEntries {
		status.Entries = entries
	}
	return status
}

// HandleHistory reports the undo stack. ?entries=true includes the entries.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	with, _ := strconv.ParseBool(r.URL.Query().Get("entries"))
	h.respond(w, http.StatusOK, Response{Success: true, Data: h.history(with)})
}

func (h *Handlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearHistory(r.Context())
	h.respond(w, http.StatusOK, Response{Success: true, Data: h.history(false)})
}

func (h *Handlers) HandleUndo(w http.ResponseWriter, r *http.Request) {
	step, ok := h.manager.Undo(r.Context())
	h.step(w, step, ok)
}

func (h *Handlers) HandleRedo(w http.ResponseWriter, r *http.Request) {
	step, ok := h.manager.Redo(r.Context())
	h.step(w, step, ok)
}

func (h *Handlers) step(w http.ResponseWriter, step state.Step, ok bool) {
	resp := StepResponse{Success: true, Applied: ok}
	if ok {
		h.sync(step.ElementID)
		resp.Step = &step
	}
	resp.History = h.history(false)
	h.respond(w, http.StatusOK, resp)
}

// HandleRestore reapplies every record of the current page to the attached
// surface.
func (h *Handlers) HandleRestore(w http.ResponseWriter, _ *http.Request) {
	if h.surface == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "No document attached")
		return
	}
	h.doc.Lock()
	report := h.manager.RestoreAll(h.surface)
	h.doc.Unlock()
	h.respond(w, http.StatusOK, Response{Success: true, Data: report})
}

// HandlePage serves the attached document with every change applied.
func (h *Handlers) HandlePage(w http.ResponseWriter, r *http.Request) {
	renderer, ok := h.surface.(Renderer)
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.doc.Lock()
	doc, err := renderer.HTML()
	h.doc.Unlock()
	if err != nil {
		h.log.Error("Failed to render document", zap.Error(err))
		http.Error(w, "failed to render document", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc))
}

func (h *Handlers) sync(id string) {
	if h.surface == nil {
		return
	}
	h.doc.Lock()
	defer h.doc.Unlock()
	if err := h.manager.Sync(h.surface, id); err != nil {
		h.log.Warn("Failed to sync element with its record", zap.String("element_id", id), zap.Error(err))
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	return nil
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Error: message})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
