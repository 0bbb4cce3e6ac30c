package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

type fakeReports struct {
	period compliance.Period
	office string
	err    error
}

func (f *fakeReports) Compliance(_ context.Context, p compliance.Period) (*dashboard.Report, error) {
	f.period = p
	if f.err != nil {
		return nil, f.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	stats := compliance.OfficeComplianceStats{
		OfficeID: "o1", OfficeName: "City Hall",
		TotalVehicles: 10, TestedVehicles: 6, CompliantVehicles: 5, ComplianceRate: 50,
	}
	return &dashboard.Report{
		Period:  p,
		Offices: []dashboard.OfficeCompliance{dashboard.NewOfficeCompliance(compliance.OfficeRef{ID: "o1", Name: "City Hall"}, compliance.Computed{Stats: stats})},
		Fleet:   compliance.ComputeFleetSummary([]compliance.OfficeComplianceStats{stats}),
		Source:  dashboard.SourceLive,
	}, nil
}

func (f *fakeReports) Office(_ context.Context, id string, p compliance.Period) (dashboard.OfficeCompliance, error) {
	f.office, f.period = id, p
	if id != "o1" {
		return dashboard.OfficeCompliance{}, dashboard.ErrOfficeNotFound
	}
	return dashboard.NewOfficeCompliance(compliance.OfficeRef{ID: "o1", Name: "City Hall"}, compliance.Unavailable{Reason: "no vehicles"}), nil
}

type fakeQueue struct {
	submitted *offline.PendingWriteIntent
	submitRes *offline.SubmitResult
	submitErr error
	opErr     error
	retried   string
	discarded string
	flushed   int
}

func (f *fakeQueue) State() offline.QueueState {
	return offline.QueueState{Pending: 2, Failed: []offline.FailedItem{{ID: "i9", Kind: offline.KindUpdate, Attempts: 5}}}
}

func (f *fakeQueue) List() []*offline.PendingWriteIntent { return nil }

func (f *fakeQueue) Flush(context.Context) offline.FlushReport {
	f.flushed++
	return offline.FlushReport{
		Committed: []string{"i1", "i2"},
		Failed: []offline.FailedItem{
			{ID: "i3", Kind: offline.KindUpdate, Target: "/api/vehicles/v3", Attempts: 1, LastError: "connection refused", Requeued: true},
		},
	}
}

func (f *fakeQueue) Submit(_ context.Context, in *offline.PendingWriteIntent) (*offline.SubmitResult, error) {
	f.submitted = in
	return f.submitRes, f.submitErr
}

func (f *fakeQueue) Retry(_ context.Context, id string) error {
	f.retried = id
	return f.opErr
}

func (f *fakeQueue) Discard(_ context.Context, id string) error {
	f.discarded = id
	return f.opErr
}

type fakeConn bool

func (c fakeConn) Online() bool { return bool(c) }

func newTestServer(reports Reports, queue WriteQueue) *Server {
	s := NewServer(options.NewHttpOptions(), reports, queue, fakeConn(true))
	s.now = func() time.Time { return time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompliance(t *testing.T) {
	reports := &fakeReports{}
	h := newTestServer(reports, &fakeQueue{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/compliance?year=2025&quarter=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, compliance.Period{Year: 2025, Quarter: 1}, reports.period)

	var got dashboard.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Offices, 1)
	assert.Equal(t, 50.0, got.Offices[0].Stats.ComplianceRate)
	assert.Equal(t, 10, got.Fleet.TotalVehicles)
}

func TestComplianceDefaultsToCurrentQuarter(t *testing.T) {
	reports := &fakeReports{}
	h := newTestServer(reports, &fakeQueue{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/compliance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, compliance.Period{Year: 2025, Quarter: 2}, reports.period)
}

func TestComplianceInvalidPeriod(t *testing.T) {
	h := newTestServer(&fakeReports{}, &fakeQueue{}).Handler()

	for _, target := range []string{
		"/api/compliance?year=abc",
		"/api/compliance?year=2025&quarter=5",
		"/api/compliance?quarter=2",
	} {
		t.Run(target, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestComplianceUpstreamFailure(t *testing.T) {
	h := newTestServer(&fakeReports{err: &apiclient.ServerError{StatusCode: 503}}, &fakeQueue{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/compliance?year=2025", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestOffice(t *testing.T) {
	reports := &fakeReports{}
	h := newTestServer(reports, &fakeQueue{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/compliance/offices/o1?year=2024", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o1", reports.office)
	assert.Equal(t, compliance.Period{Year: 2024}, reports.period)

	var got dashboard.OfficeCompliance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "unavailable", got.Status)
	assert.Equal(t, "no vehicles", got.Reason)

	rec = do(t, h, http.MethodGet, "/api/compliance/offices/missing?year=2024", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueEndpoints(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(&fakeReports{}, q).Handler()

	rec := do(t, h, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 2, state.Pending)
	assert.Len(t, state.Failed, 1)
	assert.NotNil(t, state.Intents)

	rec = do(t, h, http.MethodPost, "/api/queue/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, q.flushed)
	assert.JSONEq(t, `{
		"committed": ["i1", "i2"],
		"failed": [{"id":"i3","kind":"update","target":"/api/vehicles/v3","attempts":1,"last_error":"connection refused","requeued":true}],
		"skipped": false
	}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/queue/intents/i9/retry", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "i9", q.retried)

	rec = do(t, h, http.MethodDelete, "/api/queue/intents/i9", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "i9", q.discarded)

	rec = do(t, h, http.MethodGet, "/api/queue/flush", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQueueOperationErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{offline.ErrIntentNotFound, http.StatusNotFound},
		{fmt.Errorf("discard i1: %w", offline.ErrIntentBusy), http.StatusConflict},
		{fmt.Errorf("%w: intent i1 is Pending", offline.ErrIntentNotFailed), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestServer(&fakeReports{}, &fakeQueue{opErr: tt.err}).Handler()
			assert.Equal(t, tt.want, do(t, h, http.MethodDelete, "/api/queue/intents/i1", "").Code)
			assert.Equal(t, tt.want, do(t, h, http.MethodPost, "/api/queue/intents/i1/retry", "").Code)
		})
	}
}

func TestSubmit(t *testing.T) {
	body := `{"kind":"create","target":"/api/vehicles","payload":{"plate_number":"ABC-123"}}`

	t.Run("queued", func(t *testing.T) {
		q := &fakeQueue{submitRes: &offline.SubmitResult{Queued: true, Intent: &offline.PendingWriteIntent{ID: "i1", TempID: "tmp-1"}}}
		rec := do(t, newTestServer(&fakeReports{}, q).Handler(), http.MethodPost, "/api/queue/intents", body)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.NotNil(t, q.submitted)
		assert.Equal(t, offline.KindCreate, q.submitted.Kind)
		assert.JSONEq(t, `{"plate_number":"ABC-123"}`, string(q.submitted.Payload))
	})

	t.Run("created", func(t *testing.T) {
		q := &fakeQueue{submitRes: &offline.SubmitResult{ServerID: "v-100"}}
		rec := do(t, newTestServer(&fakeReports{}, q).Handler(), http.MethodPost, "/api/queue/intents", body)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"server_id":"v-100"`)
	})

	t.Run("bad body", func(t *testing.T) {
		q := &fakeQueue{}
		rec := do(t, newTestServer(&fakeReports{}, q).Handler(), http.MethodPost, "/api/queue/intents", `{"kind":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, q.submitted)
	})

	errCases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", fmt.Errorf("%w: target must be absolute", offline.ErrInvalidIntent), http.StatusBadRequest},
		{"rejected", &apiclient.ServerRejectedError{StatusCode: http.StatusUnprocessableEntity, Message: "plate taken"}, http.StatusUnprocessableEntity},
		{"server error", &apiclient.ServerError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{submitErr: tt.err}
			rec := do(t, newTestServer(&fakeReports{}, q).Handler(), http.MethodPost, "/api/queue/intents", body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestConnectivityAndProbes(t *testing.T) {
	h := newTestServer(&fakeReports{}, &fakeQueue{}).Handler()

	rec := do(t, h, http.MethodGet, "/api/connectivity", "")
	assert.JSONEq(t, `{"online":true}`, rec.Body.String())

	assert.Equal(t, "ok", do(t, h, http.MethodGet, "/healthz", "").Body.String())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(&fakeReports{}, &fakeQueue{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
