package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/urfave/cli"

	appLog "edscal/internal/log"
	"edscal/internal/model"
)

const standupFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup-1\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20231114T231320Z\r\n" +
	"DTEND:20231115T001320Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:later\r\n" +
	"SUMMARY:Next week\r\n" +
	"DTSTART:20231122T100000Z\r\n" +
	"DTEND:20231122T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	appLog.SetOutput(io.Discard)
	var out bytes.Buffer
	app := newApp(context.Background())
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"edscal"}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, standupFeed)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		args    cli.Args
		wantErr bool
	}{
		{cli.Args{"1700000000", "1700086400"}, false},
		{cli.Args{"1700000000", "1700000000"}, false},
		{cli.Args{"1700000000"}, true},
		{cli.Args{"a", "1700086400"}, true},
		{cli.Args{"1700000000", "b"}, true},
		{cli.Args{"1700086400", "1700000000"}, true},
		{cli.Args{"1", "2", "3"}, true},
	}
	for _, tt := range tests {
		start, end, err := parseRange(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRange(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if err == nil && (start.Unix() != mustInt(t, tt.args[0]) || end.Unix() != mustInt(t, tt.args[1])) {
			t.Errorf("parseRange(%v) = %d..%d", tt.args, start.Unix(), end.Unix())
		}
	}
}

func mustInt(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		t.Fatalf("ParseInt(%q): %v", s, err)
	}
	return n
}

func TestEventsCommandWithFeed(t *testing.T) {
	srv := feedServer(t)
	path := writeConfig(t, "backend: ics\nics:\n  - url: "+srv.URL+"\n    name: Work\n")

	out, err := run(t, "--config", path, "events", "1700000000", "1700086400")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var got []model.EventRecord
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	want := model.EventRecord{Summary: "Standup", Start: 1700003600, End: 1700007200, Calendar: "Work"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("events = %+v, want [%+v]", got, want)
	}
}

func TestEventsCommandBadArgs(t *testing.T) {
	path := writeConfig(t, "backend: ics\n")
	if _, err := run(t, "--config", path, "events", "yesterday", "today"); err == nil {
		t.Fatal("expected usage error")
	}
}

func TestCalendarsCommand(t *testing.T) {
	srv := feedServer(t)
	path := writeConfig(t, "backend: ics\nics:\n"+
		"  - url: "+srv.URL+"\n    id: work\n    name: Work\n"+
		"  - url: "+srv.URL+"\n    name: Old\n    enabled: false\n")

	out, err := run(t, "--config", path, "calendars")
	if err != nil {
		t.Fatalf("calendars: %v", err)
	}
	want := `[{"uid":"work","name":"Work","enabled":true}]`
	if strings.TrimSpace(out) != want {
		t.Errorf("calendars = %s, want %s", out, want)
	}
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, "backend: ics\n")
	out, err := run(t, "--config", path, "check")
	if err != nil {
		t.Fatalf("check must not fail: %v", err)
	}
	if !strings.HasPrefix(out, "unavailable: ") {
		t.Errorf("check = %q, want unavailable", out)
	}

	srv := feedServer(t)
	path = writeConfig(t, "backend: ics\nics:\n  - url: "+srv.URL+"\n")
	out, err = run(t, "--config", path, "check")
	if err != nil || strings.TrimSpace(out) != "available" {
		t.Errorf("check = %q, %v; want available", out, err)
	}
}

func TestBackendFlagOverride(t *testing.T) {
	path := writeConfig(t, "backend: eds\n")
	if _, err := run(t, "--config", path, "--backend", "carrier-pigeon", "calendars"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	out, err := run(t, "--config", path, "--backend", "ics", "calendars")
	if err != nil {
		t.Fatalf("calendars: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("calendars = %q, want []", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edscal", "config.yaml")

	if _, err := run(t, "--config", path, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	if _, err := run(t, "--config", path, "config", "init"); err == nil {
		t.Fatal("expected error when the file exists")
	}
	if _, err := run(t, "--config", path, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}
