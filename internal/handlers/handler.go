package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/visitor-beacon/internal/activity"
	"github.com/sdko-org/visitor-beacon/internal/beacon"
	"github.com/sdko-org/visitor-beacon/internal/ingest"
	"github.com/sdko-org/visitor-beacon/internal/notify"
	"github.com/sdko-org/visitor-beacon/internal/tenant"
	"github.com/sirupsen/logrus"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

type Handler struct {
	log           *logrus.Entry
	pipeline      *ingest.Pipeline
	activity      *activity.Log
	notifications *notify.Service
	observer      ingest.Observer
	ping          func(ctx context.Context) error
}

// NewHandler wires the HTTP surface. observer and ping may be nil.
func NewHandler(logger *logrus.Logger, pipeline *ingest.Pipeline, log *activity.Log, notifications *notify.Service, observer ingest.Observer, ping func(ctx context.Context) error) *Handler {
	return &Handler{
		log:           logger.WithField("component", "http_handler"),
		pipeline:      pipeline,
		activity:      log,
		notifications: notifications,
		observer:      observer,
		ping:          ping,
	}
}

func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, ingest.SurfaceBeacon, nil)
}

func (h *Handler) TrackInternal(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	h.track(w, r, ingest.SurfaceInternal, &ownerID)
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request, surface ingest.Surface, actorID *uint) {
	event, err := beacon.DecodeEvent(http.MaxBytesReader(w, r.Body, beacon.MaxPayloadBytes))
	if err != nil {
		if h.observer != nil {
			h.observer.ObserveBeacon(string(surface), ingest.CodeInvalidPayload, 0)
		}
		writeError(w, http.StatusBadRequest, ingest.CodeInvalidPayload)
		return
	}

	res, err := h.pipeline.Process(r.Context(), ingest.Request{
		Surface:    surface,
		TrackingID: mux.Vars(r)["trackingId"],
		Event:      event,
		IP:         beacon.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Header:     r.Header,
		ActorID:    actorID,
		RequestID:  RequestIDFrom(r.Context()),
	})
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	body := map[string]interface{}{"success": true}
	switch {
	case res.Bot:
		body["ignored"] = "bot"
	case res.Duplicate:
		body["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	var perr *ingest.PolicyError
	if !errors.As(err, &perr) {
		h.log.WithError(err).Error("Beacon processing failed")
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}

	body := map[string]interface{}{"error": perr.Code}
	if perr.Usage != nil {
		body["usage"] = perr.Usage
	}
	writeJSON(w, perr.Status, body)
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.pipeline.Count(r.Context(), mux.Vars(r)["trackingId"])
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	projectID, err := strconv.ParseUint(mux.Vars(r)["projectId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.activity.Query(r.Context(), ownerID, uint(projectID), activity.Filter{
		Page:   page,
		Limit:  limit,
		Search: q.Get("search"),
		Type:   q.Get("type"),
		Days:   q.Get("days"),
	})
	if errors.Is(err, activity.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("project_id", projectID).Error("Activity query failed")
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	projectID, err := strconv.ParseUint(mux.Vars(r)["projectId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}

	report, err := h.pipeline.Report(r.Context(), ownerID, uint(projectID))
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("project_id", projectID).Error("Usage report failed")
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case limit < 1:
		limit = defaultNotificationLimit
	case limit > maxNotificationLimit:
		limit = maxNotificationLimit
	}

	unread, err := h.notifications.Unread(r.Context(), ownerID, limit)
	if err != nil {
		h.log.WithError(err).WithField("user_id", ownerID).Error("Notification query failed")
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": unread})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.log.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
