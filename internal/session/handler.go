package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"clip-mixer/internal/catalog"
	"clip-mixer/internal/platform/metrics"
	"clip-mixer/internal/transfer"

	"github.com/go-chi/chi/v5"
)

// Handler exposes session, playback and drag endpoints using go-chi.
type Handler struct {
	svc     *Service
	proto   *transfer.Protocol
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, transfer
// Protocol, Logger, and optional Metrics. Metrics may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(svc *Service, proto *transfer.Protocol, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, proto: proto, log: log, metrics: m}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/catalog", h.GetCatalog)
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/clips", h.AddClip)
		r.Put("/order", h.Reorder)
		r.Put("/master", h.SetMasterVolume)
		r.Post("/clear", h.Clear)
		r.Post("/pause", h.PauseAll)
		r.Route("/clips/{clip_id}", func(r chi.Router) {
			r.Delete("/", h.RemoveClip)
			r.Put("/volume", h.SetVolume)
			r.Put("/loop", h.SetLoop)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
		})
	})
	r.Delete("/playables/{clip_id}", h.EvictPlayable)
	r.Route("/drag", func(r chi.Router) {
		r.Post("/start", h.DragStart)
		r.Post("/end", h.DragEnd)
		r.Post("/cancel", h.DragCancel)
	})
}

// snapshotResponse is the session as returned by mutations. It carries no
// catalog metadata so that mutations never wait on the catalog.
type snapshotResponse struct {
	Order        []string          `json:"order"`
	Members      map[string]Member `json:"members"`
	MasterVolume int               `json:"master_volume"`
}

func newSnapshotResponse(s Snapshot) snapshotResponse {
	if s.Order == nil {
		s.Order = []string{}
	}
	return snapshotResponse{Order: s.Order, Members: s.Members, MasterVolume: s.Master}
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// GetCatalog handles GET /catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	clips, err := h.svc.Catalog(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if clips == nil {
		clips = []catalog.Clip{}
	}
	writeJSON(w, http.StatusOK, clips)
}

// GetSession handles GET /session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Session(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type addRequest struct {
	catalog.Clip
	Index *int `json:"index,omitempty"`
}

// AddClip handles POST /session/clips.
// Body: { "id": "rain", "name": "Rain", "source": "https://...", "index": 0 }.
// Responds 201 when the clip was added and 200 when it already was a member.
func (h *Handler) AddClip(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid add body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	added, err := h.svc.Add(req.ID, req.Clip, req.Index)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
		h.log.Info("clip added", slog.String("clip_id", req.ID))
		h.incMutation("add")
	}
	writeJSON(w, status, newSnapshotResponse(h.svc.Snapshot()))
}

// RemoveClip handles DELETE /session/clips/{clip_id}.
func (h *Handler) RemoveClip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	removed, err := h.svc.Remove(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !removed {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.log.Info("clip removed", slog.String("clip_id", id))
	h.incMutation("remove")
	writeJSON(w, http.StatusOK, newSnapshotResponse(h.svc.Snapshot()))
}

// Reorder handles PUT /session/order. Body: { "ids": ["b", "a"] }.
// A request that is not a permutation of the session is ignored and the
// unchanged session is returned.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid reorder body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err := h.svc.Reorder(req.IDs)
	switch {
	case err == nil:
		h.incMutation("reorder")
	case errors.Is(err, ErrInvalidPermutation):
		h.log.Info("reorder ignored", slog.String("error", err.Error()))
	default:
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(h.svc.Snapshot()))
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

// SetVolume handles PUT /session/clips/{clip_id}/volume. Body: { "volume": 40 }.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SetVolume(id, *req.Volume); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Debug("volume set", slog.String("clip_id", id), slog.Int("volume", *req.Volume))
	h.incMutation("set_volume")
	w.WriteHeader(http.StatusNoContent)
}

// SetLoop handles PUT /session/clips/{clip_id}/loop. Body: { "loop": true }.
func (h *Handler) SetLoop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	var req struct {
		Loop *bool `json:"loop"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Loop == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SetLoop(id, *req.Loop); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Debug("loop set", slog.String("clip_id", id), slog.Bool("loop", *req.Loop))
	h.incMutation("set_loop")
	w.WriteHeader(http.StatusNoContent)
}

// SetMasterVolume handles PUT /session/master. Body: { "volume": 50 }.
func (h *Handler) SetMasterVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SetMasterVolume(*req.Volume); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("master volume set", slog.Int("volume", *req.Volume))
	h.incMutation("set_master_volume")
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /session/clear.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("session cleared")
	h.incMutation("clear")
	writeJSON(w, http.StatusOK, newSnapshotResponse(h.svc.Snapshot()))
}

// Play handles POST /session/clips/{clip_id}/play. Responds with
// { "playing": false } when the playback backend refused to start.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	playing, err := h.svc.Play(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"playing": playing})
}

// Pause handles POST /session/clips/{clip_id}/pause. The fade-out runs in
// the background.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	if err := h.svc.Pause(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PauseAll handles POST /session/pause and returns once every fade is done.
func (h *Handler) PauseAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.PauseAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvictPlayable handles DELETE /playables/{clip_id}.
func (h *Handler) EvictPlayable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clip_id")

	evicted, err := h.svc.Evict(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !evicted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.log.Info("playable evicted", slog.String("clip_id", id))
	w.WriteHeader(http.StatusNoContent)
}

type dragStartRequest struct {
	Kind string       `json:"kind"`
	ID   string       `json:"id"`
	Clip catalog.Clip `json:"clip"`
}

// DragStart handles POST /drag/start.
// Body: { "kind": "library-item", "id": "rain", "clip": {...} }.
func (h *Handler) DragStart(w http.ResponseWriter, r *http.Request) {
	var req dragStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	kind, err := transfer.ParseSourceKind(req.Kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	tok, err := h.proto.DragStart(transfer.Source{Kind: kind, ID: req.ID, Clip: req.Clip})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": string(tok)})
}

type dragEndRequest struct {
	Token  string `json:"token"`
	Target struct {
		Kind string `json:"kind"`
		ID   string `json:"id,omitempty"`
	} `json:"target"`
}

// DragEnd handles POST /drag/end.
// Body: { "token": "...", "target": { "kind": "session-item", "id": "rain" } }.
func (h *Handler) DragEnd(w http.ResponseWriter, r *http.Request) {
	var req dragEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	kind, err := transfer.ParseTargetKind(req.Target.Kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	action, err := h.proto.DragEnd(transfer.Token(req.Token), transfer.Target{Kind: kind, ID: req.Target.ID})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if action != transfer.ActionNone {
		h.incMutation(action.String())
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action.String()})
}

// DragCancel handles POST /drag/cancel.
func (h *Handler) DragCancel(w http.ResponseWriter, r *http.Request) {
	h.proto.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) incMutation(op string) {
	if h.metrics != nil {
		h.metrics.IncMutation(op)
	}
}

// writeError maps err to a status code. Catalog failures carry a JSON body
// telling the client it may retry.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var resErr *catalog.ResolutionError
	switch {
	case errors.As(err, &resErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Retryable: resErr.Retryable()})
	case errors.Is(err, ErrInvalidVolume), errors.Is(err, ErrInvalidID),
		errors.Is(err, transfer.ErrUnknownKind), errors.Is(err, transfer.ErrInvalidSource):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotMember):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrStillMember), errors.Is(err, ErrPlayableNotFound):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
