package capture

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tt-go/internal/track"
)

func streamPosition(lat, lon float64) track.Message {
	return track.Message{
		Type: track.MsgPosition,
		Position: &track.Position{
			Latitude: lat, Longitude: lon, Accuracy: 10,
			CapturedAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}
}

func shortContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStreamProvider_Current(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	p := NewStreamProvider(pr)
	w := NewLineWriter(pw)

	go func() {
		w.Write(streamPosition(52.52, 13.405))
	}()

	pos, err := p.Current(shortContext(t))
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if pos.Latitude != 52.52 || pos.Longitude != 13.405 {
		t.Errorf("position = %v/%v", pos.Latitude, pos.Longitude)
	}
}

func TestStreamProvider_SkipsNonPositionMessages(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	p := NewStreamProvider(pr)
	w := NewLineWriter(pw)

	go func() {
		w.Write(track.Message{Type: track.MsgHeartbeat})
		w.Write(track.Message{Type: track.MsgError, Error: "noise"})
		w.Write(streamPosition(52.52, 13.405))
	}()

	pos, err := p.Current(shortContext(t))
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if pos.Latitude != 52.52 {
		t.Errorf("Latitude = %v, want 52.52", pos.Latitude)
	}
}

func TestStreamProvider_SignificantChange(t *testing.T) {
	t.Run("fires on real movement", func(t *testing.T) {
		pr, pw := io.Pipe()
		t.Cleanup(func() { pw.Close() })
		p := NewStreamProvider(pr)
		w := NewLineWriter(pw)

		go func() {
			w.Write(streamPosition(52.52, 13.405))
		}()

		// The first position always counts as movement.
		pos, err := p.SignificantChange(shortContext(t))
		if err != nil {
			t.Fatalf("SignificantChange() error = %v", err)
		}
		if pos.Latitude != 52.52 {
			t.Errorf("Latitude = %v", pos.Latitude)
		}

		go func() {
			// Under the threshold, then a real move.
			w.Write(streamPosition(52.5201, 13.405))
			w.Write(streamPosition(52.53, 13.405))
		}()

		pos, err = p.SignificantChange(shortContext(t))
		if err != nil {
			t.Fatalf("SignificantChange() error = %v", err)
		}
		if pos.Latitude != 52.53 {
			t.Errorf("Latitude = %v, want the post-move position 52.53", pos.Latitude)
		}
	})

	t.Run("blocks while stationary", func(t *testing.T) {
		pr, pw := io.Pipe()
		t.Cleanup(func() { pw.Close() })
		p := NewStreamProvider(pr)
		w := NewLineWriter(pw)

		go func() {
			w.Write(streamPosition(52.52, 13.405))
			w.Write(streamPosition(52.5201, 13.4051))
		}()

		if _, err := p.SignificantChange(shortContext(t)); err != nil {
			t.Fatalf("SignificantChange() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := p.SignificantChange(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("SignificantChange() error = %v, want deadline exceeded", err)
		}
	})
}

func TestStreamProvider_EndOfStream(t *testing.T) {
	pr, pw := io.Pipe()
	p := NewStreamProvider(pr)
	pw.Close()

	if _, err := p.Current(shortContext(t)); !errors.Is(err, io.EOF) {
		t.Fatalf("Current() after EOF error = %v, want io.EOF", err)
	}
	if _, err := p.SignificantChange(shortContext(t)); !errors.Is(err, io.EOF) {
		t.Fatalf("SignificantChange() after EOF error = %v, want io.EOF", err)
	}
}
