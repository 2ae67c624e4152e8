package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/parity/internal/api"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"unknown item \"nope\"","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestApplyRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /items/animator_duration_scale/apply": `{"id":"animator_duration_scale","state":"FOREIGN_DEFAULT","live_value":"0.75","unit":"×","supported":true}`,
	})

	resp, err := ts.client().post(ctx, "/items/animator_duration_scale/apply", map[string]string{"state": "FOREIGN_DEFAULT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var it api.ItemView
	if err := decodeJSON(resp, &it); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if it.State != "FOREIGN_DEFAULT" || displayValue(it.LiveValue, it.Unit) != "0.75×" {
		t.Errorf("item = %+v", it)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["state"] != "FOREIGN_DEFAULT" {
		t.Errorf("body.state = %q", body["state"])
	}
}

func TestModeSetUsesPut(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /mode": `{"mode":"bridge","modes":["auto","root","broker","bridge"]}`,
	})

	resp, err := ts.client().put(ctx, "/mode", map[string]string{"mode": "bridge"})
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatal(err)
	}
	if result.Mode != "bridge" {
		t.Errorf("mode = %q", result.Mode)
	}
	if ts.requests[0].Method != http.MethodPut {
		t.Errorf("method = %q, want PUT", ts.requests[0].Method)
	}
}

func TestDecodeJSONErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/items/nope")
	if err != nil {
		t.Fatal(err)
	}
	var it api.ItemView
	err = decodeJSON(resp, &it)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if want := `not_found: unknown item "nope"`; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestServerNotReachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", token: "x", httpClient: &http.Client{Timeout: time.Second}}
	_, err := c.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "is parity serve running") {
		t.Errorf("err = %v", err)
	}
}

func strp(s string) *string { return &s }

func TestRenderItems(t *testing.T) {
	noColor = true

	groups := []api.GroupView{
		{
			Category: "animations", Name: "Animations", Symbol: "⚡",
			Items: []api.ItemView{
				{ID: "window_animation_scale", State: "CUSTOM", LiveValue: strp("0.5"), CustomValue: strp("0.5"),
					PlatformDefault: "1.0", ForeignDefault: "0.5", Unit: "×", Supported: true},
				{ID: "animator_duration_scale", State: "PLATFORM_DEFAULT", LiveValue: strp("0.75"), CustomValue: strp("0.75"),
					PlatformDefault: "1.0", ForeignDefault: "0.75", Unit: "×", Supported: true, Drifted: true},
			},
		},
		{
			Category: "navigation", Name: "Navigation", Symbol: "◀",
			Items: []api.ItemView{
				{ID: "navigation_mode", State: "CUSTOM", PlatformDefault: "2", ForeignDefault: "0"},
			},
		},
	}

	out := renderItems(groups)

	for _, want := range []string{
		"⚡ Animations",
		"◀ Navigation",
		"window_animation_scale",
		"0.5×",
		"PLATFORM_DEFAULT *",
		"Locked",
		"requires a privileged channel",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Animations") > strings.Index(out, "Navigation") {
		t.Error("groups rendered out of order")
	}
}

func TestStateLabel(t *testing.T) {
	tests := []struct {
		name string
		item api.ItemView
		want string
	}{
		{"plain", api.ItemView{State: "CUSTOM", Supported: true}, "CUSTOM"},
		{"locked", api.ItemView{State: "CUSTOM"}, "Locked"},
		{"failed", api.ItemView{State: "CUSTOM", Supported: true, LastError: strp("boom")}, "CUSTOM (failed)"},
		{"drifted", api.ItemView{State: "FOREIGN_DEFAULT", Supported: true, Drifted: true}, "FOREIGN_DEFAULT *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateLabel(tt.item); got != tt.want {
				t.Errorf("stateLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatHistory(t *testing.T) {
	noColor = true
	h := api.HistoryView{
		Item: "navigation_mode", From: "CUSTOM", To: "FOREIGN_DEFAULT", Value: "0",
		Backend: "superuser", Error: "command failed: superuser exit 1: denied",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local),
	}
	got := formatHistory(h)
	for _, want := range []string{"2026-03-01 10:00:00", "CUSTOM -> FOREIGN_DEFAULT = 0", "via superuser", "failed: command failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatHistory missing %q: %s", want, got)
		}
	}
}

func TestWriteCrashLog(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := writeCrashLog(dir, "boom", []byte("goroutine 1 [running]:"), at); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "latest_crash.log"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"crashed at 2026-02-03T04:05:06Z", "panic: boom", "goroutine 1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("crash log missing %q:\n%s", want, data)
		}
	}
}

func TestRecordCrashRepanics(t *testing.T) {
	dir := t.TempDir()
	defer func() {
		if r := recover(); r != "kaput" {
			t.Errorf("recovered %v, want kaput", r)
		}
		if _, err := os.Stat(crashLogPath(dir)); err != nil {
			t.Errorf("crash log not written: %v", err)
		}
	}()
	func() {
		defer recordCrash(dir)
		panic("kaput")
	}()
}

func TestBackgroundPanicWritesCrashLog(t *testing.T) {
	dir := t.TempDir()
	defer func() {
		if r := recover(); r != "worker died" {
			t.Errorf("recovered %v, want worker died", r)
		}
		data, err := os.ReadFile(crashLogPath(dir))
		if err != nil {
			t.Fatalf("crash log not written: %v", err)
		}
		if !strings.Contains(string(data), "panic: worker died") {
			t.Errorf("crash log = %q", data)
		}
	}()
	runWithCrashLog(dir, func() { panic("worker died") })
}

func TestLogLevel(t *testing.T) {
	got := []string{logLevel("debug").String(), logLevel("WARN").String(), logLevel("bogus").String()}
	if diff := cmp.Diff([]string{"DEBUG", "WARN", "INFO"}, got); diff != "" {
		t.Errorf("logLevel mismatch (-want +got):\n%s", diff)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after removal")
	}
}

func TestRootRegistersCommands(t *testing.T) {
	want := []string{"apply", "broker", "config", "crash", "history", "list", "mode", "probe", "refresh", "save-custom", "serve", "show", "status", "stop"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		found := false
		for _, g := range got {
			if g == name {
				found = true
			}
		}
		if !found {
			t.Errorf("command %q not registered (have %v)", name, got)
		}
	}
}

func TestPrintHelpersPlain(t *testing.T) {
	noColor = true
	var buf bytes.Buffer
	old := msgOut
	msgOut = &buf
	defer func() { msgOut = old }()

	printSuccess("applied %s", "animator_duration")
	printStatus("Mode", "%s", "auto")

	want := "✓ applied animator_duration\n  Mode: auto\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}
