package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/model"
	"github.com/justestif/go-listening-tracker/internal/recap"
	"github.com/justestif/go-listening-tracker/internal/stats"
	metasync "github.com/justestif/go-listening-tracker/internal/sync"
	"github.com/justestif/go-listening-tracker/internal/tracker"
)

const maxBodyBytes = 1 << 20

// Handlers contains the HTTP handlers of the API.
type Handlers struct {
	tracker  *tracker.Tracker
	stats    *stats.Store
	recaps   *recap.Service
	sync     Syncer
	artists  enrich.ArtistResolver
	clientID ClientIDSetter
	clock    clock.Clock
	logger   *slog.Logger
}

// EventRequest is the body of every /events call. Track is only read by
// playing and changed.
type EventRequest struct {
	Track *model.Track `json:"track"`
	TabID string       `json:"tabId"`
}

// TrackingRequest is the body of PUT /tracking.
type TrackingRequest struct {
	Enabled *bool `json:"enabled"`
}

// ClientIDRequest is the body of PUT /soundcloud/client-id.
type ClientIDRequest struct {
	ClientID string `json:"clientId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness (GET /health).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": h.clock.Now().UnixMilli(),
	})
}

// Playing handles POST /events/playing.
func (h *Handlers) Playing(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	if err := h.tracker.OnTrackPlaying(req.Track, req.TabID); err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// Changed handles POST /events/changed.
func (h *Handlers) Changed(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	if err := h.tracker.OnTrackChanged(req.Track, req.TabID); err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// Paused handles POST /events/paused.
func (h *Handlers) Paused(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	h.tracker.OnTrackPaused(req.TabID)
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// Ended handles POST /events/ended.
func (h *Handlers) Ended(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	h.tracker.OnTrackEnded(req.TabID)
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// TabClosed handles POST /events/tab-closed.
func (h *Handlers) TabClosed(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	h.tracker.OnTabClosed(req.TabID)
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// Status handles GET /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// SetTracking handles PUT /tracking.
func (h *Handlers) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.tracker.SetTrackingEnabled(r.Context(), *req.Enabled); err != nil {
		h.logger.Error("saving tracking setting", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save setting")
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// TopTracks handles GET /stats/top?period=&sort=&limit=.
func (h *Handlers) TopTracks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period, ok := parsePeriod(w, q.Get("period"))
	if !ok {
		return
	}

	opts := stats.TopOptions{Period: period, SortBy: stats.SortByPlayCount}
	switch sort := q.Get("sort"); sort {
	case "", string(stats.SortByPlayCount):
	case string(stats.SortByTotalSeconds):
		opts.SortBy = stats.SortByTotalSeconds
	default:
		writeError(w, http.StatusBadRequest, "unknown sort: "+sort)
		return
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	writeJSON(w, http.StatusOK, h.stats.TopTracks(opts))
}

// Totals handles GET /stats/total?period=.
func (h *Handlers) Totals(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r.URL.Query().Get("period"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.stats.TotalStats(period))
}

// Daily handles GET /stats/daily?period=.
func (h *Handlers) Daily(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r.URL.Query().Get("period"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.stats.DailyStatsForPeriod(period))
}

// Patterns handles GET /stats/patterns?year=. The year defaults to the
// current one.
func (h *Handlers) Patterns(w http.ResponseWriter, r *http.Request) {
	year := h.clock.Now().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, ok := parseYear(w, raw)
		if !ok {
			return
		}
		year = y
	}
	writeJSON(w, http.StatusOK, h.stats.ListeningPatterns(year))
}

// TrackDetails handles GET /stats/tracks/{id}.
func (h *Handlers) TrackDetails(w http.ResponseWriter, r *http.Request) {
	details, ok := h.stats.GetTrackDetails(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GenerateRecap handles POST /recaps/{year}.
func (h *Handlers) GenerateRecap(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}
	rc, err := h.recaps.GenerateAndSave(r.Context(), year)
	if err != nil {
		h.logger.Error("generating recap", "year", year, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate recap")
		return
	}
	writeRecap(w, r, http.StatusCreated, rc)
}

// SavedRecap handles GET /recaps/{year}. With ?format=text the summary is
// rendered as plain text.
func (h *Handlers) SavedRecap(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}
	rc, err := h.recaps.Saved(r.Context(), year)
	if errors.Is(err, recap.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no recap saved for "+strconv.Itoa(year))
		return
	}
	if err != nil {
		h.logger.Error("loading recap", "year", year, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load recap")
		return
	}
	writeRecap(w, r, http.StatusOK, rc)
}

// Sync handles POST /sync?force=.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "no metadata source configured")
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		f, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = f
	}

	result, err := h.sync.SyncMetadata(r.Context(), force)
	switch {
	case errors.Is(err, metasync.ErrSyncTooRecent), errors.Is(err, metasync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, metasync.ErrSourceNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		h.logger.Error("syncing metadata", "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// Artist handles GET /artists/{id}.
func (h *Handlers) Artist(w http.ResponseWriter, r *http.Request) {
	if h.artists == nil {
		writeError(w, http.StatusServiceUnavailable, "no metadata source configured")
		return
	}
	id := chi.URLParam(r, "id")
	a, err := h.artists.ResolveArtist(r.Context(), id)
	if errors.Is(err, enrich.ErrUnavailable) {
		writeError(w, http.StatusNotFound, "artist not available")
		return
	}
	if err != nil {
		h.logger.Error("resolving artist", "artist_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve artist")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetClientID handles PUT /soundcloud/client-id.
func (h *Handlers) SetClientID(w http.ResponseWriter, r *http.Request) {
	if h.clientID == nil {
		writeError(w, http.StatusNotFound, "soundcloud is not the metadata source")
		return
	}
	var req ClientIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.ClientID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if err := h.clientID.SetClientID(r.Context(), id); err != nil {
		h.logger.Error("saving client id", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save client id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) trackerError(w http.ResponseWriter, err error) {
	if errors.Is(err, tracker.ErrInvalidTrack) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("handling event", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to handle event")
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (EventRequest, bool) {
	var req EventRequest
	ok := decodeBody(w, r, &req)
	return req, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parsePeriod(w http.ResponseWriter, raw string) (stats.Period, bool) {
	period, err := stats.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return period, true
}

func parseYear(w http.ResponseWriter, raw string) (int, bool) {
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1970 || year > 9999 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return 0, false
	}
	return year, true
}

func writeRecap(w http.ResponseWriter, r *http.Request, status int, rc *recap.Recap) {
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(recap.FormatSummary(rc)))
		return
	}
	writeJSON(w, status, rc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
