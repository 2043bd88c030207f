package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DeckPilot/config"
	"DeckPilot/core/matcher"
	"DeckPilot/core/orchestrator"
	"DeckPilot/core/safety"
	"DeckPilot/logger"
	"DeckPilot/model"
	"DeckPilot/repository"

	"github.com/gorilla/websocket"
)

// SessionController is the session surface. *orchestrator.Manager
// implements it.
type SessionController interface {
	StartSession(ctx context.Context, maxTracks int) (orchestrator.SessionHandle, error)
	StopSession(h orchestrator.SessionHandle) error
	Current() (orchestrator.SessionHandle, bool)
	Status() model.SessionSnapshot
	LoadNow(ctx context.Context, deck model.DeckID, trackID int64) (model.DeckState, error)
}

// TrackFinder ranks compatible tracks. *matcher.Matcher implements it.
type TrackFinder interface {
	FindCompatible(ctx context.Context, refTempo float64, refKey string, tolerancePct float64) ([]matcher.Match, error)
	Reference(t *model.Track) (float64, string)
}

// APIHandler serves the session API.
type APIHandler struct {
	cfg      *config.Config
	sessions SessionController
	tracks   repository.TrackRepository
	finder   TrackFinder
	reports  ReportLister // nil without MinIO
	hub      *StatusHub
	upgrader websocket.Upgrader
}

// NewAPIHandler creates a handler. reports may be nil.
func NewAPIHandler(cfg *config.Config, sessions SessionController, tracks repository.TrackRepository, finder TrackFinder, reports ReportLister, hub *StatusHub) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		sessions: sessions,
		tracks:   tracks,
		finder:   finder,
		reports:  reports,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrSessionRunning), errors.Is(err, safety.ErrSafetyVeto):
		return http.StatusConflict
	case errors.Is(err, repository.ErrTrackNotFound), errors.Is(err, orchestrator.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoTracks):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

type startRequest struct {
	MaxTracks *int `json:"maxTracks"`
}

// StartSessionHandler starts a session: POST /api/session.
func (h *APIHandler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	req := startRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	maxTracks := -1
	if req.MaxTracks != nil {
		if *req.MaxTracks < 0 {
			writeError(w, http.StatusBadRequest, "maxTracks must not be negative")
			return
		}
		maxTracks = *req.MaxTracks
	}

	handle, err := h.sessions.StartSession(r.Context(), maxTracks)
	if err != nil {
		logger.Warn("start session rejected", logger.ErrorField(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	logger.Info("session started via api",
		logger.String("session", handle.ID),
		logger.String("operator", OperatorFromContext(r.Context())))
	writeJSON(w, http.StatusAccepted, handle)
}

// StopSessionHandler stops the running session and waits for its cleanup:
// DELETE /api/session.
func (h *APIHandler) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.sessions.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no session running")
		return
	}
	resp := map[string]interface{}{"id": handle.ID}
	if err := h.sessions.StopSession(handle); err != nil {
		resp["error"] = err.Error()
	}
	resp["status"] = h.sessions.Status()
	logger.Info("session stopped via api",
		logger.String("session", handle.ID),
		logger.String("operator", OperatorFromContext(r.Context())))
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the current snapshot: GET /api/session.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

type loadRequest struct {
	Deck    string `json:"deck"`
	TrackID int64  `json:"trackId"`
}

// LoadNowHandler loads one track between sessions: POST /api/session/load.
func (h *APIHandler) LoadNowHandler(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deck := model.DeckID(strings.ToUpper(strings.TrimSpace(req.Deck)))
	if deck != model.DeckA && deck != model.DeckB {
		writeError(w, http.StatusBadRequest, "deck must be A or B")
		return
	}
	if req.TrackID <= 0 {
		writeError(w, http.StatusBadRequest, "trackId is required")
		return
	}

	state, err := h.sessions.LoadNow(r.Context(), deck, req.TrackID)
	if err != nil {
		logger.Warn("load now failed",
			logger.Deck(string(deck)),
			logger.Int64("track", req.TrackID),
			logger.ErrorField(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetTracksHandler lists the library: GET /api/tracks.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.tracks.ListTracks(r.Context())
	if err != nil {
		logger.Error("failed to list tracks", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list tracks")
		return
	}
	if tracks == nil {
		tracks = []model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

type matchResponse struct {
	Track      model.Track `json:"track"`
	Distance   int         `json:"distance"`
	TempoDelta float64     `json:"tempoDelta"`
}

// MatchHandler ranks tracks compatible with a reference: GET
// /api/tracks/match?trackId=7 or ?tempo=128&key=8A, optional tolerance.
func (h *APIHandler) MatchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tolerance := 0.0
	if s := q.Get("tolerance"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid tolerance")
			return
		}
		tolerance = v
	}

	var (
		tempo float64
		key   string
		self  int64
	)
	if s := q.Get("trackId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid trackId")
			return
		}
		ref, err := h.tracks.GetTrack(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		tempo, key = h.finder.Reference(ref)
		self = ref.ID
	} else {
		v, err := strconv.ParseFloat(q.Get("tempo"), 64)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "tempo or trackId is required")
			return
		}
		tempo, key = v, q.Get("key")
		if _, err := matcher.ParseKey(key); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	matches, err := h.finder.FindCompatible(r.Context(), tempo, key, tolerance)
	if err != nil {
		logger.Error("match query failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "match query failed")
		return
	}
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		if m.Track.ID == self {
			continue
		}
		out = append(out, matchResponse{Track: m.Track, Distance: m.Distance, TempoDelta: m.TempoDelta})
	}
	writeJSON(w, http.StatusOK, out)
}

// StatusStreamHandler upgrades to a WebSocket that receives every status
// snapshot: GET /ws/status.
func (h *APIHandler) StatusStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	h.hub.Serve(conn)
}
