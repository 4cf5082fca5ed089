package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, env Envelope) Envelope {
	t.Helper()
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestRoundTripChat(t *testing.T) {
	env := NewChat("r1", "local-7b", "be terse", []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}, true, 4096, true)

	got := roundTrip(t, env)
	if !reflect.DeepEqual(got, env) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, env)
	}
}

func TestRoundTripDeltaNullContent(t *testing.T) {
	// A role-establishing delta has content=null and only role set.
	env := Delta{Type: TypeDelta, ID: "r1", Index: 0, Role: "assistant"}

	got := roundTrip(t, env)
	d, ok := got.(Delta)
	if !ok {
		t.Fatalf("expected Delta, got %T", got)
	}
	if d.Content != nil {
		t.Fatalf("expected nil content, got %q", *d.Content)
	}
	if d.Role != "assistant" || d.Index != 0 {
		t.Fatalf("unexpected delta %+v", d)
	}
}

func TestRoundTripAllVariants(t *testing.T) {
	text := "Hel"
	envelopes := []Envelope{
		NewChat("r1", "m", "", []ChatMessage{{Role: "user", Content: "q"}}, true, 0, false),
		NewCancel("r1"),
		NewPing(1234),
		NewToolApproval("r1", "t1", false, "too risky"),
		Connected{Type: TypeConnected, ConnectionID: "c1", Model: "m", Version: "0.3"},
		Delta{Type: TypeDelta, ID: "r1", Index: 2, Content: &text},
		Thinking{Type: TypeThinking, ID: "r1", Content: "hmm"},
		ToolCall{Type: TypeToolCall, ID: "r1", ToolCallID: "t1", Name: "search",
			Arguments: json.RawMessage(`{"q":"go"}`), RiskLevel: "low", RequiresApproval: true},
		ToolResult{Type: TypeToolResult, ID: "r1", ToolCallID: "t1", Content: "ok"},
		Done{Type: TypeDone, ID: "r1", StopReason: "stop", Usage: &Usage{InputTokens: 10, OutputTokens: 20}},
		Error{Type: TypeError, ID: "r1", Code: "overloaded", Message: "try later"},
		Pong{Type: TypePong, TS: 1234},
		Cancelled{Type: TypeCancelled, ID: "r1"},
	}

	for _, env := range envelopes {
		got := roundTrip(t, env)
		if got.EnvelopeType() != env.EnvelopeType() {
			t.Fatalf("type mismatch: got %s want %s", got.EnvelopeType(), env.EnvelopeType())
		}
		if got.RequestID() != env.RequestID() {
			t.Fatalf("%s: request id mismatch: got %q want %q",
				env.EnvelopeType(), got.RequestID(), env.RequestID())
		}
		if !reflect.DeepEqual(got, env) {
			t.Fatalf("%s: round trip mismatch:\n got %+v\nwant %+v", env.EnvelopeType(), got, env)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","request_id":"r1"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"request_id":"r1"}`))
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestConnectionScopedFramesHaveNoRequestID(t *testing.T) {
	for _, env := range []Envelope{NewPing(0), Pong{Type: TypePong}, Connected{Type: TypeConnected, ConnectionID: "c"}} {
		if env.RequestID() != "" {
			t.Fatalf("%s should not carry a request id", env.EnvelopeType())
		}
	}
}
