package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
	"github.com/ecofleet-io/ecofleet/internal/offline"
)

// maxBodyBytes bounds submitted intents.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	offline.QueueState
	Intents []*offline.PendingWriteIntent `json:"intents"`
}

// ConnectivityResponse is the body of GET /api/connectivity.
type ConnectivityResponse struct {
	Online bool `json:"online"`
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	period, err := s.period(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	report, err := s.reports.Compliance(r.Context(), period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOffice(w http.ResponseWriter, r *http.Request) {
	period, err := s.period(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	office, err := s.reports.Office(r.Context(), mux.Vars(r)["id"], period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, office)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	intents := s.queue.List()
	if intents == nil {
		intents = []*offline.PendingWriteIntent{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{QueueState: s.queue.State(), Intents: intents})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Flush(r.Context()))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in offline.PendingWriteIntent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	res, err := s.queue.Submit(r.Context(), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	switch {
	case res.Queued:
		status = http.StatusAccepted
	case in.Kind == offline.KindCreate:
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Retry(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.queue.State())
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Discard(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConnectivityResponse{Online: s.conn.Online()})
}

// period reads ?year=&quarter=. Without a year the current quarter is used.
func (s *Server) period(r *http.Request) (compliance.Period, error) {
	q := r.URL.Query()
	if q.Get("year") == "" && q.Get("quarter") == "" {
		return compliance.CurrentPeriod(s.now()), nil
	}

	var p compliance.Period
	for _, f := range []struct {
		name string
		dst  *int
	}{{"year", &p.Year}, {"quarter", &p.Quarter}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, &compliance.ValidationError{Field: f.name, Value: raw, Reason: "must be an integer"}
		}
		*f.dst = n
	}
	return p, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *compliance.ValidationError
		rejected   *apiclient.ServerRejectedError
		serverErr  *apiclient.ServerError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation), errors.Is(err, offline.ErrInvalidIntent):
		status = http.StatusBadRequest
	case errors.Is(err, dashboard.ErrOfficeNotFound), errors.Is(err, offline.ErrIntentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, offline.ErrIntentBusy), errors.Is(err, offline.ErrIntentNotFailed):
		status = http.StatusConflict
	case errors.As(err, &rejected):
		status = http.StatusBadGateway
		if rejected.StatusCode >= 400 && rejected.StatusCode < 500 {
			status = rejected.StatusCode
		}
	case errors.As(err, &serverErr), apiclient.IsNetwork(err):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(err, "Request failed", "status", status)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
