package audio

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func testStream(channels int) (*Stream, chan []int16) {
	ch := make(chan []int16, 64)
	var once sync.Once
	s := &Stream{
		Samples:    ch,
		Channels:   channels,
		SampleRate: SampleRate,
		Source:     "test",
		cleanup:    func() { once.Do(func() { close(ch) }) },
	}
	return s, ch
}

func TestCombineRequiresTwoStreams(t *testing.T) {
	s, _ := testStream(2)
	if _, _, err := CombineStreams(s); err == nil {
		t.Fatal("expected error for a single stream")
	}
}

func TestCombineRejectsChannelMismatch(t *testing.T) {
	a, _ := testStream(1)
	b, _ := testStream(2)
	if _, _, err := CombineStreams(a, b); err == nil {
		t.Fatal("expected error for mismatched channel counts")
	}
}

func TestCombineSumsWithClamp(t *testing.T) {
	a, chA := testStream(1)
	b, chB := testStream(1)

	combined, cleanup, err := CombineStreams(a, b)
	if err != nil {
		t.Fatalf("CombineStreams: %v", err)
	}

	chA <- []int16{100, 30000, -30000}
	chB <- []int16{50, 30000, -30000}

	// Cleanup drains pending samples before closing the output.
	time.Sleep(2 * mixInterval)
	cleanup()

	var got []int16
	for pcm := range combined.Samples {
		got = append(got, pcm...)
	}
	want := []int16{150, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("mixed %d samples, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCombineCleanupIsIdempotent(t *testing.T) {
	a, _ := testStream(1)
	b, _ := testStream(1)
	_, cleanup, err := CombineStreams(a, b)
	if err != nil {
		t.Fatalf("CombineStreams: %v", err)
	}
	cleanup()
	cleanup() // must not panic or block
}

func TestWAVRecorderProducesRIFFBlob(t *testing.T) {
	s, ch := testStream(1)
	rec := NewWAVRecorder(s)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch <- []int16{1, 2, 3, 4}
	time.Sleep(20 * time.Millisecond)

	blob, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if blob.MIME != MIMEWav {
		t.Errorf("MIME = %q, want %q", blob.MIME, MIMEWav)
	}
	if !bytes.HasPrefix(blob.Data, []byte("RIFF")) {
		t.Errorf("blob does not start with RIFF header: % x", blob.Data[:8])
	}
	if !bytes.Contains(blob.Data[:16], []byte("WAVE")) {
		t.Error("blob is not a WAVE container")
	}
}

func TestWAVRecorderPauseDropsSamples(t *testing.T) {
	s, ch := testStream(1)
	rec := NewWAVRecorder(s)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch <- []int16{1, 1}
	time.Sleep(20 * time.Millisecond)

	if err := rec.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	ch <- []int16{9, 9, 9}
	time.Sleep(20 * time.Millisecond)

	if err := rec.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ch <- []int16{2}
	time.Sleep(20 * time.Millisecond)

	blob, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// 3 samples * 2 bytes; paused samples must not appear.
	rec.mu.Lock()
	n := len(rec.samples)
	rec.mu.Unlock()
	if n != 3 {
		t.Errorf("recorded %d samples, want 3 (paused input dropped)", n)
	}
	if len(blob.Data) == 0 {
		t.Error("empty blob")
	}
}

func TestWAVRecorderDoubleStopFails(t *testing.T) {
	s, _ := testStream(1)
	rec := NewWAVRecorder(s)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if _, err := rec.Stop(context.Background()); err == nil {
		t.Error("second Stop should report not-started")
	}
}
