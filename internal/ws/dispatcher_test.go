package ws

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDispatcherRegisterAndDispatch(t *testing.T) {
	d := NewDispatcher()

	var called bool
	var receivedType string
	d.Register(TypeListGames, CostMessage, func(c *Conn, msg Message) {
		called = true
		receivedType = msg.Type
	})

	msg := Message{Type: TypeListGames, ID: "test-id", Timestamp: "2026-02-15T10:00:00Z"}
	if err := d.Dispatch(nil, msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if receivedType != TypeListGames {
		t.Errorf("received type = %q, want %q", receivedType, TypeListGames)
	}
}

func TestDispatcherUnknownType(t *testing.T) {
	d := NewDispatcher()

	msg := Message{Type: "unknown_message_type", ID: "test-id"}
	err := d.Dispatch(nil, msg)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if want := `unknown message type "unknown_message_type"`; err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}

func TestDispatcherReplaceHandler(t *testing.T) {
	d := NewDispatcher()

	var first, second int
	d.Register(TypeCommand, CostMessage, func(c *Conn, msg Message) { first++ })
	d.Register(TypeCommand, CostBoot, func(c *Conn, msg Message) { second++ })

	d.Dispatch(nil, Message{Type: TypeCommand})
	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want only the replacement called", first, second)
	}
	if got := d.Cost(TypeCommand); got != CostBoot {
		t.Errorf("Cost = %s, want boot", got)
	}
}

func TestDispatcherCost(t *testing.T) {
	d := NewDispatcher()
	noop := func(*Conn, Message) {}
	d.Register(TypePing, CostFree, noop)
	d.Register(TypePlay, CostBoot, noop)
	d.Register(TypeLeave, CostMessage, noop)

	tests := []struct {
		msgType string
		want    Cost
	}{
		{TypePing, CostFree},
		{TypePlay, CostBoot},
		{TypeLeave, CostMessage},
		{"garbage", CostMessage},
		{"", CostMessage},
	}
	for _, tt := range tests {
		if got := d.Cost(tt.msgType); got != tt.want {
			t.Errorf("Cost(%q) = %s, want %s", tt.msgType, got, tt.want)
		}
	}
}

func TestCostString(t *testing.T) {
	tests := []struct {
		cost Cost
		want string
	}{
		{CostFree, "free"},
		{CostMessage, "message"},
		{CostBoot, "boot"},
		{Cost(7), "Cost(7)"},
	}
	for _, tt := range tests {
		if got := tt.cost.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDispatcherPassesRawJSON(t *testing.T) {
	d := NewDispatcher()

	var receivedRaw json.RawMessage
	d.Register(TypeCommand, CostMessage, func(c *Conn, msg Message) {
		receivedRaw = msg.Raw
	})

	original := CommandMessage{
		Type:      TypeCommand,
		ID:        uuid.NewString(),
		Timestamp: "2026-02-15T10:00:00Z",
		Game:      "zork1",
		Text:      "open mailbox",
	}

	data, _ := json.Marshal(original)
	msg := Message{Type: TypeCommand, ID: original.ID, Raw: data}
	d.Dispatch(nil, msg)

	// The handler should be able to unmarshal the raw JSON into the specific type.
	var got CommandMessage
	if err := json.Unmarshal(receivedRaw, &got); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if got.Game != "zork1" {
		t.Errorf("game = %q, want %q", got.Game, "zork1")
	}
	if got.Text != "open mailbox" {
		t.Errorf("text = %q, want %q", got.Text, "open mailbox")
	}
}
