package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/config"
	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/protocol"
)

var upgrader = websocket.Upgrader{}

func scriptedServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func send(ws *websocket.Conn, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig(endpoint string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.FallbackEndpoint = ""
	cfg.AutoReconnect = false
	cfg.PingInterval = time.Minute
	return cfg
}

func newConnectedSession(t *testing.T, cfg config.Config) *Session {
	t.Helper()
	s := New(cfg, zerolog.Nop())
	t.Cleanup(s.Close)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func str(s string) *string { return &s }

func TestChatRoundTrip(t *testing.T) {
	url := scriptedServer(t, func(ws *websocket.Conn) {
		send(ws, protocol.Connected{Type: protocol.TypeConnected, ConnectionID: "c1"})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if chat, ok := env.(protocol.Chat); ok {
				id := chat.ID
				send(ws, protocol.Delta{Type: protocol.TypeDelta, ID: id, Index: 0, Content: str("Hello"), Role: "assistant"})
				send(ws, protocol.Delta{Type: protocol.TypeDelta, ID: id, Index: 1, Content: str(", world")})
				send(ws, protocol.Done{Type: protocol.TypeDone, ID: id, StopReason: "end_turn",
					Usage: &protocol.Usage{InputTokens: 5, OutputTokens: 2}})
			}
		}
	})

	s := newConnectedSession(t, testConfig(url))

	sub := s.Events(64)
	defer sub.Close()

	id, err := s.SendChat(context.Background(), []protocol.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}

	waitFor(t, "completion", func() bool {
		snap, ok := s.Request(id)
		return ok && snap.Status == domain.StatusComplete
	})

	snap, _ := s.Request(id)
	if snap.Content != "Hello, world" {
		t.Fatalf("content = %q", snap.Content)
	}
	if snap.Usage == nil || snap.Usage.InputTokens != 5 {
		t.Fatalf("usage = %+v", snap.Usage)
	}

	var deltas int
	drain := time.After(time.Second)
	for deltas < 2 {
		select {
		case ev := <-sub.C:
			if ev.Type == domain.EventTypeDelta {
				deltas++
			}
		case <-drain:
			t.Fatalf("saw %d delta events", deltas)
		}
	}
}

func TestToolApprovalRoundTrip(t *testing.T) {
	url := scriptedServer(t, func(ws *websocket.Conn) {
		send(ws, protocol.Connected{Type: protocol.TypeConnected, ConnectionID: "c1"})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			switch e := env.(type) {
			case protocol.Chat:
				send(ws, protocol.ToolCall{
					Type: protocol.TypeToolCall, ID: e.ID, ToolCallID: "tc-1",
					Name: "run_command", Arguments: []byte(`{"cmd":"ls"}`),
					RiskLevel: "high", RequiresApproval: true,
				})
			case protocol.ToolApproval:
				if !e.Approved {
					send(ws, protocol.Done{Type: protocol.TypeDone, ID: e.ID})
					continue
				}
				send(ws, protocol.ToolResult{
					Type: protocol.TypeToolResult, ID: e.ID,
					ToolCallID: e.ToolCallID, Content: "file.txt",
				})
				send(ws, protocol.Done{Type: protocol.TypeDone, ID: e.ID})
			}
		}
	})

	cfg := testConfig(url)
	cfg.ApprovalMode = config.ApprovalAll
	s := newConnectedSession(t, cfg)

	id, err := s.SendChat(context.Background(), []protocol.ChatMessage{{Role: "user", Content: "list files"}})
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}

	waitFor(t, "approval prompt", func() bool { return len(s.PendingApprovals()) == 1 })
	if err := s.Approve("tc-1", true, "go ahead"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	waitFor(t, "completion", func() bool {
		snap, ok := s.Request(id)
		return ok && snap.Status == domain.StatusComplete
	})

	snap, _ := s.Request(id)
	if len(snap.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", snap.ToolCalls)
	}
	tc := snap.ToolCalls[0]
	if tc.Outcome != domain.ApprovalApproved || tc.Result != "file.txt" || !tc.ResultReceived {
		t.Fatalf("tool call state = %+v", tc)
	}
}

func TestCancelMidStream(t *testing.T) {
	started := make(chan string, 1)
	url := scriptedServer(t, func(ws *websocket.Conn) {
		send(ws, protocol.Connected{Type: protocol.TypeConnected, ConnectionID: "c1"})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			switch e := env.(type) {
			case protocol.Chat:
				send(ws, protocol.Delta{Type: protocol.TypeDelta, ID: e.ID, Index: 0, Content: str("part")})
				started <- e.ID
			case protocol.Cancel:
				// A straggler delta racing the ack, then the ack itself.
				send(ws, protocol.Delta{Type: protocol.TypeDelta, ID: e.ID, Index: 1, Content: str("ial")})
				send(ws, protocol.Cancelled{Type: protocol.TypeCancelled, ID: e.ID})
			}
		}
	})

	s := newConnectedSession(t, testConfig(url))

	id, err := s.SendChat(context.Background(), []protocol.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("stream never started")
	}
	waitFor(t, "first delta", func() bool {
		snap, _ := s.Request(id)
		return snap.Content == "part"
	})

	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	snap, _ := s.Request(id)
	if snap.Status != domain.StatusCancelled {
		t.Fatalf("status = %v", snap.Status)
	}

	// The straggler delta must not mutate the cancelled request.
	time.Sleep(50 * time.Millisecond)
	if snap, _ := s.Request(id); snap.Content != "part" {
		t.Fatalf("content after cancel = %q", snap.Content)
	}
}

func TestTrimHistory(t *testing.T) {
	msgs := []protocol.ChatMessage{
		{Role: "user", Content: strings.Repeat("a", 100)},
		{Role: "assistant", Content: strings.Repeat("b", 100)},
		{Role: "user", Content: strings.Repeat("c", 100)},
	}

	if got := trimHistory(msgs, 0); len(got) != 3 {
		t.Fatalf("no budget should not trim, got %d", len(got))
	}
	if got := trimHistory(msgs, 250); len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got := trimHistory(msgs, 150); len(got) != 1 || got[0].Content[0] != 'c' {
		t.Fatalf("expected only the newest message, got %d", len(got))
	}
	// The newest message survives even over budget.
	if got := trimHistory(msgs, 10); len(got) != 1 {
		t.Fatalf("newest message must survive, got %d", len(got))
	}
}
