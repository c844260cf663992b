package capture

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"tt-go/internal/track"
)

func TestLineCodec(t *testing.T) {
	t.Run("round trips a message sequence", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewLineWriter(&buf)

		at := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
		speed := 1.4
		sent := []track.Message{
			{Type: track.MsgStarted, ShiftID: "shift-1", At: at},
			{Type: track.MsgPosition, ShiftID: "shift-1", At: at.Add(15 * time.Second),
				Position: &track.Position{
					Latitude: 52.52, Longitude: 13.405, Accuracy: 8,
					Speed: &speed, CapturedAt: at.Add(15 * time.Second),
				}},
			{Type: track.MsgError, ShiftID: "shift-1", At: at.Add(30 * time.Second),
				Error: "fix timed out"},
			{Type: track.MsgStopped, ShiftID: "shift-1", At: at.Add(time.Minute)},
		}
		for _, m := range sent {
			if err := w.Write(m); err != nil {
				t.Fatalf("Write(%s) error = %v", m.Type, err)
			}
		}

		r := NewLineReader(&buf)
		for i, want := range sent {
			got, err := r.Read()
			if err != nil {
				t.Fatalf("Read() #%d error = %v", i, err)
			}
			if got.Type != want.Type || got.ShiftID != want.ShiftID {
				t.Errorf("Read() #%d = %s/%s, want %s/%s", i, got.Type, got.ShiftID, want.Type, want.ShiftID)
			}
			if !got.At.Equal(want.At) {
				t.Errorf("Read() #%d At = %v, want %v", i, got.At, want.At)
			}
		}
		if _, err := r.Read(); !errors.Is(err, io.EOF) {
			t.Fatalf("Read() past end error = %v, want io.EOF", err)
		}
	})

	t.Run("position payload survives the wire", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewLineWriter(&buf)

		heading := 270.0
		pos := &track.Position{
			Latitude: -33.8688, Longitude: 151.2093, Accuracy: 4.5,
			Heading: &heading, Mock: true,
			CapturedAt: time.Date(2026, 1, 15, 10, 30, 15, 0, time.UTC),
		}
		if err := w.Write(track.Message{Type: track.MsgPosition, At: pos.CapturedAt, Position: pos}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		got, err := NewLineReader(&buf).Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Position == nil {
			t.Fatal("Position = nil")
		}
		if got.Position.Latitude != pos.Latitude || got.Position.Longitude != pos.Longitude {
			t.Errorf("position = %v/%v", got.Position.Latitude, got.Position.Longitude)
		}
		if got.Position.Heading == nil || *got.Position.Heading != heading {
			t.Errorf("Heading = %v, want %v", got.Position.Heading, heading)
		}
		if !got.Position.Mock {
			t.Error("Mock flag lost")
		}
	})

	t.Run("a malformed line fails without poisoning the stream", func(t *testing.T) {
		input := `{"type":"heartbeat","at":"2026-01-15T10:30:00Z"}
not json at all
{"type":"heartbeat","at":"2026-01-15T10:31:00Z"}
`
		r := NewLineReader(strings.NewReader(input))

		if _, err := r.Read(); err != nil {
			t.Fatalf("first Read() error = %v", err)
		}
		if _, err := r.Read(); err == nil {
			t.Fatal("Read() of malformed line succeeded")
		}
		m, err := r.Read()
		if err != nil {
			t.Fatalf("Read() after malformed line error = %v", err)
		}
		if m.Type != track.MsgHeartbeat {
			t.Errorf("Type = %s, want heartbeat", m.Type)
		}
	})

	t.Run("unknown message types pass through", func(t *testing.T) {
		r := NewLineReader(strings.NewReader(`{"type":"hologram","at":"2026-01-15T10:30:00Z"}` + "\n"))
		m, err := r.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if m.Type.Known() {
			t.Errorf("Type %q reported as known", m.Type)
		}
	})
}

func TestForward(t *testing.T) {
	msgs := make(chan track.Message, 4)
	msgs <- track.Message{Type: track.MsgStarted, ShiftID: "shift-1"}
	msgs <- track.Message{Type: track.MsgHeartbeat, ShiftID: "shift-1"}
	close(msgs)

	var buf bytes.Buffer
	if err := Forward(msgs, &buf); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	r := NewLineReader(&buf)
	for _, want := range []track.MessageType{track.MsgStarted, track.MsgHeartbeat} {
		m, err := r.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if m.Type != want {
			t.Errorf("Type = %s, want %s", m.Type, want)
		}
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("Read() past end error = %v, want io.EOF", err)
	}
}
