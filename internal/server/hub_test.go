package server

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
)

// TestJoinReplayAndNotice tests that a joiner gets history first and only the
// others hear about the join.
func TestJoinReplayAndNotice(t *testing.T) {
	env := newTestEnv(t, nil)

	alice, hist := env.dialJoined(t)
	if len(hist) != 0 {
		t.Fatalf("fresh server replayed %d messages", len(hist))
	}

	bob, _ := env.dialJoined(t)
	expectNotice(t, alice, joinNotice)

	// Bob's next frame is his own message, not a join notice.
	send(t, bob, `{"text":"hi"}`)
	if frame := readFrame(t, bob); frame["text"] != "hi" {
		t.Fatalf("bob expected his own message, got %v", frame)
	}
}

// TestMessageReachesEveryoneAndIsDurable tests echo to the sender, fan-out
// and that the message is the last line of the durable log.
func TestMessageReachesEveryoneAndIsDurable(t *testing.T) {
	env := newTestEnv(t, nil)

	alice, _ := env.dialJoined(t)
	bob, _ := env.dialJoined(t)
	expectNotice(t, alice, joinNotice)

	send(t, alice, `{"text":"hello","ts":"client"}`)

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		frame := readFrame(t, conn)
		if frame["text"] != "hello" {
			t.Errorf("%s got %v", name, frame)
		}
		if _, ok := frame["ts"].(float64); !ok {
			t.Errorf("%s: ts = %v, want a server number", name, frame["ts"])
		}
	}

	lines := historyLines(t, env.historyPath)
	last := lines[len(lines)-1]
	var stored map[string]any
	if err := json.Unmarshal([]byte(last), &stored); err != nil {
		t.Fatalf("last line %q: %v", last, err)
	}
	if stored["text"] != "hello" {
		t.Errorf("last durable record = %v", stored)
	}
	if _, ok := stored["ts"].(float64); !ok {
		t.Errorf("durable ts = %v", stored["ts"])
	}
}

// TestReplayOnJoin tests that a late joiner receives earlier messages in order.
func TestReplayOnJoin(t *testing.T) {
	env := newTestEnv(t, nil)

	alice, _ := env.dialJoined(t)
	for _, text := range []string{"one", "two", "three"} {
		send(t, alice, `{"text":"`+text+`"}`)
		readFrame(t, alice)
	}

	_, hist := env.dialJoined(t)
	if len(hist) != 3 {
		t.Fatalf("replayed %d messages, want 3", len(hist))
	}
	for i, want := range []string{"one", "two", "three"} {
		msg, _ := hist[i].(map[string]any)
		if msg["text"] != want {
			t.Errorf("history[%d] = %v, want %s", i, hist[i], want)
		}
	}
}

// TestMalformedMessageIsolated tests that a bad frame closes only its sender.
func TestMalformedMessageIsolated(t *testing.T) {
	env := newTestEnv(t, nil)

	alice, _ := env.dialJoined(t)
	bob, _ := env.dialJoined(t)
	expectNotice(t, alice, joinNotice)

	send(t, alice, `this is not json`)

	_ = alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := alice.ReadMessage()
	if err == nil {
		t.Fatal("expected alice's connection to be closed")
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected an unsupported-data close, got %v", err)
	}

	expectNotice(t, bob, leaveNotice)

	send(t, bob, `{"text":"still here"}`)
	if frame := readFrame(t, bob); frame["text"] != "still here" {
		t.Fatalf("bob got %v", frame)
	}
	if env.app.Hub().History().Len() != 1 {
		t.Errorf("history holds %d messages, want 1", env.app.Hub().History().Len())
	}
}

// TestNonObjectFramesRejected tests that valid JSON which is not an object is malformed.
func TestNonObjectFramesRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	conn, _ := env.dialJoined(t)

	send(t, conn, `["array"]`)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

// TestLeaveNotice tests that a normal disconnect is announced to the rest.
func TestLeaveNotice(t *testing.T) {
	env := newTestEnv(t, nil)

	alice, _ := env.dialJoined(t)
	bob, _ := env.dialJoined(t)
	expectNotice(t, alice, joinNotice)

	_ = bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()

	expectNotice(t, alice, leaveNotice)
}

// TestHistorySurvivesRestart tests that a new server over the same log replays it.
func TestHistorySurvivesRestart(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, _ := env.dialJoined(t)
	send(t, alice, `{"text":"persisted"}`)
	readFrame(t, alice)

	cfg := env.cfg
	second := newTestEnv(t, func(c *config.Config) {
		c.HistoryPath = cfg.HistoryPath
	})
	_, hist := second.dialJoined(t)
	if len(hist) != 1 {
		t.Fatalf("replayed %d messages after restart, want 1", len(hist))
	}
}

// TestRateLimitDiscardsExcess tests that frames over the burst are dropped, not relayed.
func TestRateLimitDiscardsExcess(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit.Burst = 2
		c.RateLimit.RefillInterval = time.Hour
	})
	conn, _ := env.dialJoined(t)

	for i := 0; i < 4; i++ {
		send(t, conn, `{"n":1}`)
	}
	readFrame(t, conn)
	readFrame(t, conn)

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("received a frame beyond the burst")
	}
	if n := env.app.Hub().History().Len(); n != 2 {
		t.Errorf("history holds %d messages, want 2", n)
	}
}

// TestFanOutEvictsSlowConsumer tests that a full queue evicts its client and
// the departure reaches the others.
func TestFanOutEvictsSlowConsumer(t *testing.T) {
	log, err := history.Open(filepath.Join(t.TempDir(), "chat.log.gz"), nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(log, HubOptions{}, nil)

	slow := &Client{id: "slow", send: make(chan []byte, 1), hub: hub}
	fast := &Client{id: "fast", send: make(chan []byte, 4), hub: hub}
	slow.send <- []byte("backlog")
	hub.clients[slow] = struct{}{}
	hub.clients[fast] = struct{}{}

	hub.fanOut([]byte(`{"text":"x"}`), nil)

	if _, ok := hub.clients[slow]; ok {
		t.Fatal("slow client still registered")
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	var got []string
	for len(fast.send) > 0 {
		got = append(got, string(<-fast.send))
	}
	if len(got) != 2 || got[0] != `{"text":"x"}` || !strings.Contains(got[1], leaveNotice) {
		t.Errorf("fast client received %q", got)
	}

	// The evicted queue is closed after its backlog.
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow client's queue is still open")
	}
}

// TestEvictedClientMessagesDropped tests that frames a removed client still
// had buffered are neither stored nor relayed.
func TestEvictedClientMessagesDropped(t *testing.T) {
	log, err := history.Open(filepath.Join(t.TempDir(), "chat.log.gz"), nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(log, HubOptions{}, nil)

	slow := &Client{id: "slow", send: make(chan []byte, 1), hub: hub}
	fast := &Client{id: "fast", send: make(chan []byte, 8), hub: hub}
	slow.send <- []byte("backlog")
	hub.clients[slow] = struct{}{}
	hub.clients[fast] = struct{}{}

	hub.fanOut(encodeNotice(joinNotice), nil)
	if _, ok := hub.clients[slow]; ok {
		t.Fatal("slow client still registered")
	}
	for len(fast.send) > 0 {
		<-fast.send
	}

	msg, err := history.ParseMessage([]byte(`{"text":"late"}`))
	if err != nil {
		t.Fatal(err)
	}
	hub.handleInbound(inboundMessage{sender: slow, msg: msg})

	if log.Len() != 0 {
		t.Errorf("history.Len() = %d, want 0", log.Len())
	}
	if len(fast.send) != 0 {
		t.Errorf("fast client received %d frames, want 0", len(fast.send))
	}

	hub.handleInbound(inboundMessage{sender: fast, msg: msg})
	if log.Len() != 1 {
		t.Errorf("history.Len() = %d after registered sender, want 1", log.Len())
	}
	if len(fast.send) != 1 {
		t.Errorf("fast client received %d frames, want 1", len(fast.send))
	}
}

// TestShutdownWithoutRun tests that Shutdown returns once timeout passes even
// when the event loop was never started.
func TestShutdownWithoutRun(t *testing.T) {
	log, err := history.Open(filepath.Join(t.TempDir(), "chat.log.gz"), nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(log, HubOptions{}, nil)

	done := make(chan error, 1)
	go func() { done <- hub.Shutdown(50 * time.Millisecond) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Shutdown() = %v, want %v", err, context.DeadlineExceeded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() blocked without Run")
	}
}

// TestRegisterAfterShutdown tests that a stopped hub refuses new clients without blocking.
func TestRegisterAfterShutdown(t *testing.T) {
	log, err := history.Open(filepath.Join(t.TempDir(), "chat.log.gz"), nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(log, HubOptions{}, nil)
	go hub.Run()
	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	done := make(chan bool, 1)
	go func() { done <- hub.Register(&Client{id: "late", send: make(chan []byte, 1), hub: hub}) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("Register() succeeded after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Register() blocked after shutdown")
	}

	if !errors.Is(hub.ctx.Err(), context.Canceled) {
		t.Error("hub context not cancelled")
	}
}
