package reasoning

import (
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func recvFrame(t *testing.T, client *SSEClient) []byte {
	t.Helper()
	select {
	case frame, ok := <-client.Events():
		if !ok {
			t.Fatal("client channel closed while expecting a frame")
		}
		return frame
	default:
		t.Fatal("no frame buffered")
	}
	return nil
}

func TestBroadcast_FramesAndInjectsSessionID(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	client := hub.Subscribe("sess-1")
	defer hub.Unsubscribe("sess-1", client)

	hub.Broadcast("sess-1", EventStreamProgress, map[string]any{"progress": 0.5})

	frame := recvFrame(t, client)
	text := string(frame)
	if !strings.HasPrefix(text, "data: ") || !strings.HasSuffix(text, "\n\n") {
		t.Fatalf("frame = %q, want data: <json>\\n\\n", text)
	}

	var event SSEEvent
	if err := json.Unmarshal(frame[len("data: "):len(frame)-2], &event); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if event.Type != EventStreamProgress {
		t.Errorf("type = %q", event.Type)
	}
	if event.Data["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v, want sess-1", event.Data["sessionId"])
	}
	if event.Data["progress"] != 0.5 {
		t.Errorf("progress = %v", event.Data["progress"])
	}
	if event.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestBroadcast_OrderPreservedPerSession(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	client := hub.Subscribe("sess-1")
	defer hub.Unsubscribe("sess-1", client)

	hub.Broadcast("sess-1", EventStreamStarted, nil)
	hub.Broadcast("sess-1", EventStreamProgress, nil)
	hub.Broadcast("sess-1", EventStreamCompleted, nil)

	for _, want := range []string{EventStreamStarted, EventStreamProgress, EventStreamCompleted} {
		var event SSEEvent
		frame := recvFrame(t, client)
		if err := json.Unmarshal(frame[len("data: "):len(frame)-2], &event); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if event.Type != want {
			t.Errorf("event = %q, want %q", event.Type, want)
		}
	}
}

func TestBroadcast_UnknownSessionIsNoOp(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	hub.Broadcast("nobody-home", EventHeartbeat, nil)
}

func TestBroadcast_IsolatesSessions(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	a := hub.Subscribe("sess-a")
	b := hub.Subscribe("sess-b")
	defer hub.Unsubscribe("sess-a", a)
	defer hub.Unsubscribe("sess-b", b)

	hub.Broadcast("sess-a", EventStreamStarted, nil)

	recvFrame(t, a)
	select {
	case <-b.Events():
		t.Error("event for sess-a delivered to sess-b")
	default:
	}
}

func TestCloseSession_SendsTerminalEventAndClosesClients(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	client := hub.Subscribe("sess-1")

	hub.CloseSession("sess-1", EventSessionCompleted, map[string]any{"confidence": 0.8})

	var event SSEEvent
	frame := recvFrame(t, client)
	if err := json.Unmarshal(frame[len("data: "):len(frame)-2], &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != EventSessionCompleted {
		t.Errorf("terminal event = %q", event.Type)
	}

	if _, ok := <-client.Events(); ok {
		t.Error("client channel still open after session close")
	}

	// Closing twice is harmless.
	hub.CloseSession("sess-1", EventSessionCompleted, nil)
}

func TestUnsubscribe_LastClientTearsDownSession(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	client := hub.Subscribe("sess-1")

	hub.Unsubscribe("sess-1", client)
	if _, ok := <-client.Events(); ok {
		t.Error("channel open after unsubscribe")
	}

	// Double unsubscribe is harmless.
	hub.Unsubscribe("sess-1", client)
}

func TestBroadcast_DropsClientWithFullBuffer(t *testing.T) {
	hub := NewSSEHub(zap.NewNop())
	slow := hub.Subscribe("sess-1")

	for i := 0; i < 70; i++ {
		hub.Broadcast("sess-1", EventStreamProgress, nil)
	}

	// The 64-slot buffer filled; the client was dropped and its channel
	// closed after the buffered frames.
	n := 0
	for range slow.Events() {
		n++
	}
	if n != 64 {
		t.Errorf("delivered frames = %d, want 64", n)
	}
}
