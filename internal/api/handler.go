package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/metrics"
	"github.com/gonkalabs/opendeid/internal/session"
	"github.com/gonkalabs/opendeid/internal/upstream"
)

//go:embed web/index.html
var indexHTML []byte

const maxBody = 4 << 20

// Handler implements all HTTP endpoints.
type Handler struct {
	sess    *session.Session
	metrics bool
}

// New creates a Handler over sess. withMetrics mounts /metrics.
func New(sess *session.Session, withMetrics bool) *Handler {
	return &Handler{sess: sess, metrics: withMetrics}
}

// Register mounts routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/catalog", h.getCatalog)
	mux.HandleFunc("GET /api/state", h.getState)
	mux.HandleFunc("PUT /api/editor", h.setEditor)
	mux.HandleFunc("POST /api/anonymize", h.anonymize)
	mux.HandleFunc("POST /api/reset", h.reset)
	mux.HandleFunc("PATCH /api/settings", h.updateSettings)
	mux.HandleFunc("PUT /api/findings", h.toggleAllFindings)
	mux.HandleFunc("PUT /api/findings/{id}", h.toggleFinding)
	mux.HandleFunc("POST /api/findings/sort", h.sortFindings)
	mux.HandleFunc("PUT /api/entity-types/{type}", h.setEntityType)
	mux.HandleFunc("POST /api/entity-types/toggle-all", h.toggleAllEntityTypes)
	mux.HandleFunc("PUT /api/sections/{key}", h.setSection)
	mux.HandleFunc("GET /api/presets", h.listPresets)
	mux.HandleFunc("POST /api/presets", h.savePreset)
	mux.HandleFunc("POST /api/presets/{id}/load", h.loadPreset)
	mux.HandleFunc("DELETE /api/presets/{id}", h.deletePreset)
	mux.HandleFunc("GET /api/export/html", h.exportHTML)
	mux.HandleFunc("GET /api/export/text", h.exportText)
	if h.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	mux.HandleFunc("GET /", h.serveUI)
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type catalogResponse struct {
	DisplayLimit int              `json:"displayLimit"`
	Models       []catalog.Model  `json:"models"`
	Language     string           `json:"language"`
	EntityTypes  []catalog.Option `json:"entityTypes"`
}

func (h *Handler) getCatalog(w http.ResponseWriter, _ *http.Request) {
	cat := h.sess.Catalog()
	lang := cat.Language(h.sess.State().NerModel)
	writeJSON(w, http.StatusOK, catalogResponse{
		DisplayLimit: cat.DisplayLimit,
		Models:       cat.Models,
		Language:     lang,
		EntityTypes:  cat.Localized(lang),
	})
}

func (h *Handler) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.View())
}

type editorBody struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

func (h *Handler) setEditor(w http.ResponseWriter, r *http.Request) {
	var body editorBody
	if !decode(w, r, &body) {
		return
	}
	h.sess.SetEditor(r.Context(), body.HTML, body.Text)
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) anonymize(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	defer r.Body.Close()
	if len(raw) > 0 {
		var body editorBody
		if err := json.Unmarshal(raw, &body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		h.sess.SetEditor(r.Context(), body.HTML, body.Text)
	}

	err = h.sess.Submit(r.Context())
	switch {
	case errors.Is(err, session.ErrEmptyText):
		writeErr(w, http.StatusBadRequest, session.MsgEmptyText)
	case err != nil:
		writeErr(w, http.StatusBadGateway, upstream.Detail(err))
	default:
		writeJSON(w, http.StatusOK, h.sess.View())
	}
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.sess.Reset(r.Context())
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var p session.Patch
	if !decode(w, r, &p) {
		return
	}
	h.sess.Update(r.Context(), p)
	writeJSON(w, http.StatusOK, h.sess.View())
}

type includedBody struct {
	Included *bool `json:"included"`
}

func (h *Handler) toggleFinding(w http.ResponseWriter, r *http.Request) {
	var body includedBody
	if !decode(w, r, &body) {
		return
	}
	if body.Included == nil {
		writeErr(w, http.StatusBadRequest, "included is required")
		return
	}
	h.sess.SetFindingToggle(r.Context(), r.PathValue("id"), *body.Included)
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) toggleAllFindings(w http.ResponseWriter, r *http.Request) {
	var body includedBody
	if !decode(w, r, &body) {
		return
	}
	if body.Included == nil {
		writeErr(w, http.StatusBadRequest, "included is required")
		return
	}
	h.sess.SetAllFindingToggles(r.Context(), *body.Included)
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) sortFindings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key deid.SortKey `json:"key"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Key == "" {
		writeErr(w, http.StatusBadRequest, "key is required")
		return
	}
	h.sess.SortBy(r.Context(), body.Key)
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) setEntityType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Enabled == nil {
		writeErr(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if _, ok := h.sess.SetEntityType(r.Context(), r.PathValue("type"), *body.Enabled); !ok {
		writeErr(w, http.StatusNotFound, "unknown entity type: "+r.PathValue("type"))
		return
	}
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) toggleAllEntityTypes(w http.ResponseWriter, r *http.Request) {
	h.sess.ToggleAllEntityTypes(r.Context())
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) setSection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Open bool `json:"open"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.sess.SetSection(r.Context(), r.PathValue("key"), body.Open)
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) listPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Presets())
}

func (h *Handler) savePreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := h.sess.SavePreset(r.Context(), body.Name)
	if err != nil {
		writeErr(w, http.StatusBadRequest, session.MsgPresetName)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) loadPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := presetID(w, r)
	if !ok {
		return
	}
	if _, err := h.sess.LoadPreset(r.Context(), id); err != nil {
		writeErr(w, http.StatusNotFound, session.MsgSelectLoad)
		return
	}
	writeJSON(w, http.StatusOK, h.sess.View())
}

func (h *Handler) deletePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := presetID(w, r)
	if !ok {
		return
	}
	if err := h.sess.DeletePreset(r.Context(), id); err != nil {
		writeErr(w, http.StatusNotFound, session.MsgSelectDelete)
		return
	}
	writeJSON(w, http.StatusOK, h.sess.Presets())
}

func (h *Handler) exportHTML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, h.sess.View().DisplayHTML)
}

func (h *Handler) exportText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.sess.View().PlainText)
}

func (h *Handler) serveUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

// ---------- helpers ----------

func presetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid preset id")
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		slog.Debug("api: bad request body", "path", r.URL.Path, "err", err)
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
