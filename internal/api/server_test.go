package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/FocusMirror/internal/config"
	"github.com/bryanchriswhite/FocusMirror/internal/output"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/session"
)

type fixture struct {
	sim *platform.Sim
	src platform.Handle
	srv *httptest.Server
}

// newFixture runs a simulated desktop loop behind a test server.
func newFixture(t *testing.T, preview *output.MJPEGOutput) *fixture {
	t.Helper()
	sim := platform.NewSim(platform.SimOptions{})
	src := sim.AddWindow("editor", platform.Rect{Left: 50, Top: 50, Right: 690, Bottom: 530}, true)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sim.RunLoop(ctx)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for sim.Invoke(func() {}) != nil {
		if time.Now().After(deadline) {
			t.Fatal("sim loop did not start")
		}
		time.Sleep(time.Millisecond)
	}

	srv := httptest.NewServer(NewServer(session.Deps{Backend: sim}, *config.Defaults(), preview).Handler())
	t.Cleanup(func() {
		srv.Close()
		sim.Invoke(session.Shutdown)
		cancel()
		<-loopDone
	})
	return &fixture{sim: sim, src: src, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, "GET", "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]interface{}
	json.Unmarshal(body, &got)
	if got["backend"] != "sim" || got["session"] != false {
		t.Fatalf("health = %v", got)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestListWindows(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, "GET", "/api/windows", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var list []platform.WindowInfo
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Handle != f.src || list[0].Title != "editor" {
		t.Fatalf("windows = %+v", list)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rate := uint32(30)
	resp, body := f.do(t, "POST", "/api/session", CreateRequest{Window: uint64(f.src), FrameRate: &rate})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var st session.Status
	json.Unmarshal(body, &st)
	if !st.Active || st.Source != f.src || st.FrameRate != 30 || st.Mode != "interval" {
		t.Fatalf("created = %+v", st)
	}

	resp, body = f.do(t, "POST", "/api/session", CreateRequest{Window: uint64(f.src)})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create status = %d: %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, "GET", "/api/session", nil)
	json.Unmarshal(body, &st)
	if resp.StatusCode != http.StatusOK || !st.Active {
		t.Fatalf("get = %d %+v", resp.StatusCode, st)
	}

	resp, _ = f.do(t, "DELETE", "/api/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, "DELETE", "/api/session", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}

	var after session.Status
	_, body = f.do(t, "GET", "/api/session", nil)
	json.Unmarshal(body, &after)
	if after.Active {
		t.Fatal("session still active after delete")
	}
	var stats platform.SimStats
	f.sim.Invoke(func() { stats = f.sim.Stats() })
	if stats.HostWindows != 0 || stats.Timers != 0 || stats.MagInit {
		t.Fatalf("resources left behind: %+v", stats)
	}
}

func TestCreateUsesDefaultsAndForeground(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, "POST", "/api/session", CreateRequest{Foreground: true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var st session.Status
	json.Unmarshal(body, &st)
	if st.Source != f.src || st.FrameRate != config.Defaults().FrameRate {
		t.Fatalf("status = %+v", st)
	}
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(t, nil)
	bad := uint32(10)
	effects := `[{"effect":"warp"}]`
	badParams := `[{"effect":"sharpen","strength":3}]`

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"invalid rate", CreateRequest{Window: uint64(f.src), FrameRate: &bad}, http.StatusBadRequest},
		{"no window", CreateRequest{}, http.StatusBadRequest},
		{"unknown window", CreateRequest{Window: 0xdead}, http.StatusBadRequest},
		{"unknown effect", CreateRequest{Window: uint64(f.src), Effects: &effects}, http.StatusBadRequest},
		{"bad effect params", CreateRequest{Window: uint64(f.src), Effects: &badParams}, http.StatusBadRequest},
		{"malformed body", "not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, "POST", "/api/session", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Fatalf("body = %s", body)
			}
		})
	}
	if session.Active() {
		t.Fatal("failed create left a session behind")
	}
}

func TestCreateErrorStatus(t *testing.T) {
	if got := createErrorStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("generic error = %d", got)
	}
	if got := createErrorStatus(session.ErrAlreadyActive); got != http.StatusConflict {
		t.Fatalf("already active = %d", got)
	}
}

func TestLoopNotRunning(t *testing.T) {
	sim := platform.NewSim(platform.SimOptions{})
	srv := httptest.NewServer(NewServer(session.Deps{Backend: sim}, *config.Defaults(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/windows")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSessionEventsWebSocket(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	f.do(t, "POST", "/api/session", CreateRequest{Window: uint64(f.src)})
	f.do(t, "DELETE", "/api/session", nil)

	var ev session.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != session.EventStarted || ev.Source != f.src {
		t.Fatalf("first event = %+v", ev)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != session.EventEnded || ev.Reason != session.ReasonRequested {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestPreviewRoutes(t *testing.T) {
	preview := output.NewMJPEGOutput(output.Config{Quality: 60})
	if err := preview.Start(); err != nil {
		t.Fatal(err)
	}
	defer preview.Stop()
	f := newFixture(t, preview)

	resp, body := f.do(t, "GET", "/api/preview", nil)
	var st output.Stats
	json.Unmarshal(body, &st)
	if resp.StatusCode != http.StatusOK || !st.Running || st.Quality != 60 {
		t.Fatalf("preview stats = %d %+v", resp.StatusCode, st)
	}

	resp, body = f.do(t, "GET", "/viewer", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `src="/stream"`) {
		t.Fatalf("viewer = %d", resp.StatusCode)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/viewer" {
		t.Fatalf("root = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}
