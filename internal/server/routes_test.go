package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatdrop/internal/config"
)

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// TestHealthEndpoint tests the health response.
func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.dialJoined(t)

	resp := do(t, http.MethodGet, env.server.URL+"/health", http.NoBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Clients != 1 {
		t.Errorf("health = %+v", health)
	}
}

// TestUploadThroughRouter tests the document upload route end to end,
// including the traversal scenario and the listing.
func TestUploadThroughRouter(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := do(t, http.MethodPost, env.server.URL+"/files/upload?name=../../etc/passwd", strings.NewReader("hi"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %q", resp.StatusCode, readBody(t, resp))
	}
	var created struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Filename != "passwd" {
		t.Errorf("filename = %q", created.Filename)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Documents.Dir, "passwd")); err != nil {
		t.Errorf("stored file missing: %v", err)
	}

	dup := do(t, http.MethodPost, env.server.URL+"/files/upload?name=passwd", strings.NewReader("again"))
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d", dup.StatusCode)
	}

	list := do(t, http.MethodGet, env.server.URL+"/files", http.NoBody)
	var names []string
	if err := json.NewDecoder(list.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "passwd" {
		t.Errorf("listing = %v", names)
	}

	// Stored documents are downloadable through the static fallback.
	get := do(t, http.MethodGet, env.server.URL+"/files/passwd", http.NoBody)
	if body := readBody(t, get); body != "hi" {
		t.Errorf("download = %q", body)
	}
}

// TestAudioUploadLimits tests the audio route's declared-length check.
func TestAudioUploadLimits(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Audio.MaxSize = 4 })

	resp := do(t, http.MethodPost, env.server.URL+"/audio/upload?name=clip.webm", strings.NewReader("12345"))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body := strings.TrimSpace(readBody(t, resp)); body != "Audio too large" {
		t.Errorf("body = %q", body)
	}

	ok := do(t, http.MethodPost, env.server.URL+"/audio/upload?name=clip.webm", strings.NewReader("1234"))
	if ok.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", ok.StatusCode)
	}
}

// TestStaticFallback tests file serving, the index.html fallback and the built-in page.
func TestStaticFallback(t *testing.T) {
	env := newTestEnv(t, nil)

	page := do(t, http.MethodGet, env.server.URL+"/anything", http.NoBody)
	if body := readBody(t, page); !strings.Contains(body, "<title>chatdrop</title>") {
		t.Errorf("built-in page not served: %q", body[:min(len(body), 80)])
	}

	if err := os.WriteFile(filepath.Join(env.cfg.PublicDir, "index.html"), []byte("<p>custom</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.PublicDir, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	css := do(t, http.MethodGet, env.server.URL+"/app.css", http.NoBody)
	if ct := css.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("css content type = %q", ct)
	}

	index := do(t, http.MethodGet, env.server.URL+"/room/42", http.NoBody)
	if body := readBody(t, index); body != "<p>custom</p>" {
		t.Errorf("fallback body = %q", body)
	}

	traversal := do(t, http.MethodGet, env.server.URL+"/../../etc/hostname", http.NoBody)
	if body := readBody(t, traversal); body != "<p>custom</p>" {
		t.Errorf("traversal body = %q", body)
	}

	post := do(t, http.MethodPost, env.server.URL+"/app.css", strings.NewReader("x"))
	if post.StatusCode != http.StatusNotFound {
		t.Errorf("POST to static path = %d, want 404", post.StatusCode)
	}
}

// TestUpgradeOnFallbackPath tests that a WebSocket upgrade on any path joins the hub.
func TestUpgradeOnFallbackPath(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dialPath(t, "/")
	if frame := readFrame(t, conn); frame["system"] != true {
		t.Fatalf("first frame = %v", frame)
	}
}

// TestWebSocketHandlerRejectsPost tests the method guard.
func TestWebSocketHandlerRejectsPost(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := do(t, http.MethodPost, env.server.URL+"/ws", http.NoBody)
	if resp.StatusCode == http.StatusSwitchingProtocols || resp.StatusCode == http.StatusOK {
		t.Errorf("POST /ws status = %d", resp.StatusCode)
	}
}
