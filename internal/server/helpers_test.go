package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
)

type testEnv struct {
	server      *httptest.Server
	app         *Server
	cfg         config.Config
	historyPath string
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.PublicDir = filepath.Join(dir, "public")
	cfg.HistoryPath = filepath.Join(dir, "chat.log.gz")
	cfg.Sanitize()
	return cfg
}

// newTestEnv starts a full server behind httptest with its hub running.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	go app.Hub().Run()

	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		_ = app.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testEnv{server: ts, app: app, cfg: cfg, historyPath: cfg.HistoryPath}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

// dial opens a WebSocket with a same-host Origin header.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return e.dialPath(t, "/ws")
}

func (e *testEnv) dialPath(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", e.server.URL)

	conn, resp, err := dialer.Dial(e.wsURL(path), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialJoined connects and consumes the history frame.
func (e *testEnv) dialJoined(t *testing.T) (*websocket.Conn, []any) {
	t.Helper()
	conn := e.dial(t)
	frame := readFrame(t, conn)
	if frame["system"] != true {
		t.Fatalf("first frame is not a system frame: %v", frame)
	}
	hist, ok := frame["history"].([]any)
	if !ok {
		t.Fatalf("first frame has no history array: %v", frame)
	}
	return conn, hist
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return frame
}

func expectNotice(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	frame := readFrame(t, conn)
	if frame["system"] != true || frame["msg"] != text {
		t.Fatalf("expected notice %q, got %v", text, frame)
	}
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func historyLines(t *testing.T, path string) []string {
	t.Helper()
	var buf bytes.Buffer
	if err := history.Dump(path, &buf); err != nil {
		t.Fatalf("Dump() failed: %v", err)
	}
	return strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
}
