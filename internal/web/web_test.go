package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edscal/internal/config"
	"edscal/internal/extract"
	appLog "edscal/internal/log"
	"edscal/internal/model"
)

type fakeExtractor struct {
	records   []model.EventRecord
	calendars []model.Calendar
	status    extract.Status
	err       error

	gotStart, gotEnd time.Time
}

func (f *fakeExtractor) Events(_ context.Context, start, end time.Time) ([]model.EventRecord, error) {
	f.gotStart, f.gotEnd = start, end
	return f.records, f.err
}

func (f *fakeExtractor) Calendars(context.Context) ([]model.Calendar, error) {
	return f.calendars, f.err
}

func (f *fakeExtractor) Check(context.Context) extract.Status { return f.status }

func newTestServer(cfg *config.Config, x Extractor) *Server {
	appLog.SetOutput(io.Discard)
	s := NewServer(cfg, x)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), &fakeExtractor{})
	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventsEndpoint(t *testing.T) {
	fx := &fakeExtractor{records: []model.EventRecord{
		{Summary: "Standup", Start: 1700003600, End: 1700007200, Calendar: "Work"},
	}}
	s := newTestServer(config.DefaultConfig(), fx)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events?start=1700000000&end=1700086400", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got []model.EventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0] != fx.records[0] {
		t.Errorf("records = %+v", got)
	}
	if fx.gotStart.Unix() != 1700000000 || fx.gotEnd.Unix() != 1700086400 {
		t.Errorf("range = %d..%d", fx.gotStart.Unix(), fx.gotEnd.Unix())
	}
}

func TestEventsEndpointDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HorizonDays = 2
	fx := &fakeExtractor{records: []model.EventRecord{}}
	s := newTestServer(cfg, fx)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "[]\n" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
	if fx.gotStart.Unix() != 1700000000 || fx.gotEnd.Unix() != 1700000000+2*86400 {
		t.Errorf("range = %d..%d", fx.gotStart.Unix(), fx.gotEnd.Unix())
	}
}

func TestEventsEndpointBadRequest(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), &fakeExtractor{})
	for _, q := range []string{"start=abc", "end=xyz", "start=200&end=100"} {
		rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestEventsEndpointBackendError(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), &fakeExtractor{err: errors.New("registry gone")})
	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestCalendarsEndpoint(t *testing.T) {
	fx := &fakeExtractor{calendars: []model.Calendar{{UID: "system-calendar", Name: "Personal", Enabled: true}}}
	s := newTestServer(config.DefaultConfig(), fx)
	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/calendars", nil))
	want := `[{"uid":"system-calendar","name":"Personal","enabled":true}]` + "\n"
	if rec.Code != http.StatusOK || rec.Body.String() != want {
		t.Fatalf("calendars = %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	tests := []struct {
		status extract.Status
		want   string
	}{
		{extract.Status{Available: true}, `{"status":"available"}` + "\n"},
		{extract.Status{Reason: "no bus"}, `{"status":"unavailable","reason":"no bus"}` + "\n"},
	}
	for _, tt := range tests {
		s := newTestServer(config.DefaultConfig(), &fakeExtractor{status: tt.status})
		rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != tt.want {
			t.Errorf("status = %d %s, want %s", rec.Code, rec.Body.String(), tt.want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}
	h := newTestServer(cfg, &fakeExtractor{calendars: []model.Calendar{}}).Handler()

	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health without auth = %d, want 200", rec.Code)
	}
	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/calendars", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("calendars without auth = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/calendars", nil)
	req.SetBasicAuth("me", "wrong")
	if rec := do(t, h, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("calendars with wrong password = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/calendars", nil)
	req.SetBasicAuth("me", "secret")
	if rec := do(t, h, req); rec.Code != http.StatusOK {
		t.Errorf("calendars with auth = %d, want 200", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), &fakeExtractor{})
	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodPost, "/api/events", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/events = %d, want 405", rec.Code)
	}
}
