package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/catalog"
)

type handlers struct {
	analytics  Aggregator
	boundaries BoundarySource
}

// errBadRequest marks invalid query parameters.
var errBadRequest = eris.New("bad request")

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) geography(w http.ResponseWriter, r *http.Request) {
	p, kind, err := periodAndKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.analytics.Geography(r.Context(), p, kind)
	respond(w, r, res, err)
}

func (h *handlers) embeddedGeography(w http.ResponseWriter, r *http.Request) {
	p, kind, err := periodAndKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.analytics.EmbeddedGeography(r.Context(), p, kind)
	respond(w, r, res, err)
}

func (h *handlers) categories(w http.ResponseWriter, r *http.Request) {
	p, kind, err := periodAndKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.analytics.Categories(r.Context(), p, kind)
	respond(w, r, res, err)
}

func (h *handlers) flow(w http.ResponseWriter, r *http.Request) {
	p, err := period(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := kindParam(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := kindParam(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.analytics.Flow(r.Context(), p, from, to)
	respond(w, r, res, err)
}

func (h *handlers) locations(w http.ResponseWriter, r *http.Request) {
	p, err := period(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.analytics.Locations(r.Context(), p)
	respond(w, r, res, err)
}

func (h *handlers) geometries(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r, "geometry_type")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.boundaries.Boundaries(r.Context(), kind)
	if res == nil {
		res = []catalog.Boundary{}
	}
	respond(w, r, res, err)
}

func periodAndKind(r *http.Request) (analytics.Period, analytics.GeometryKind, error) {
	p, err := period(r)
	if err != nil {
		return analytics.Period{}, "", err
	}
	kind, err := kindParam(r, "geometry_type")
	return p, kind, err
}

func period(r *http.Request) (analytics.Period, error) {
	start, err := dateParam(r, "start_date")
	if err != nil {
		return analytics.Period{}, err
	}
	end, err := dateParam(r, "end_date")
	if err != nil {
		return analytics.Period{}, err
	}
	p := analytics.Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return analytics.Period{}, eris.Wrap(errBadRequest, err.Error())
	}
	return p, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, eris.Wrapf(errBadRequest, "%s is required", name)
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(errBadRequest, "%s must be YYYY-MM-DD, got %q", name, raw)
	}
	return t, nil
}

func kindParam(r *http.Request, name string) (analytics.GeometryKind, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", eris.Wrapf(errBadRequest, "%s is required", name)
	}
	return analytics.ParseKind(raw)
}

// statusFor maps an error onto an HTTP status. Malformed upstream rows are
// a bad gateway: the report or catalog drifted, not the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, analytics.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrMalformedRow), errors.Is(err, analytics.ErrUnknownCategory):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the error body.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: handler failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
