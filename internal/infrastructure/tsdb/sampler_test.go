package tsdb

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

// recordingWriter captures resource samples for assertions.
type recordingWriter struct {
	mu      sync.Mutex
	samples []recordedSample
}

type recordedSample struct {
	serverID   string
	cpuPercent float64
	rssBytes   uint64
}

func (w *recordingWriter) WriteResourceSample(serverID string, cpuPercent float64, rssBytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, recordedSample{serverID, cpuPercent, rssBytes})
}

func (w *recordingWriter) all() []recordedSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]recordedSample, len(w.samples))
	copy(out, w.samples)
	return out
}

// waitForSamples polls until at least n samples have been recorded.
func waitForSamples(t *testing.T, w *recordingWriter, n int) []recordedSample {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		samples := w.all()
		if len(samples) >= n {
			return samples
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d samples, have %d", n, len(w.all()))
	return nil
}

func TestSampler_SamplesRunningProcess(t *testing.T) {
	writer := &recordingWriter{}

	// Sample the test process itself - it always exists and has RSS.
	source := func() map[string]int {
		return map[string]int{"srv-self0001": os.Getpid()}
	}

	sampler := NewSampler(writer, source, 20*time.Millisecond, nil)
	sampler.Start(context.Background())
	defer sampler.Stop()

	samples := waitForSamples(t, writer, 2)

	for _, s := range samples {
		if s.serverID != "srv-self0001" {
			t.Errorf("sample server ID = %q, want srv-self0001", s.serverID)
		}
		if s.rssBytes == 0 {
			t.Error("sample RSS = 0, want nonzero for a live process")
		}
		if s.cpuPercent < 0 {
			t.Errorf("sample CPU = %f, want >= 0", s.cpuPercent)
		}
	}
}

func TestSampler_SkipsMissingProcess(t *testing.T) {
	writer := &recordingWriter{}

	// PID 1 is never ours; an absurdly high PID should not exist.
	source := func() map[string]int {
		return map[string]int{
			"srv-gone0001": 1 << 22,
			"srv-self0002": os.Getpid(),
		}
	}

	sampler := NewSampler(writer, source, 20*time.Millisecond, nil)
	sampler.Start(context.Background())
	defer sampler.Stop()

	samples := waitForSamples(t, writer, 2)

	for _, s := range samples {
		if s.serverID == "srv-gone0001" {
			t.Error("received sample for nonexistent process")
		}
	}
}

func TestSampler_EmptySource(t *testing.T) {
	writer := &recordingWriter{}
	source := func() map[string]int { return nil }

	sampler := NewSampler(writer, source, 10*time.Millisecond, nil)
	sampler.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	sampler.Stop()

	if got := len(writer.all()); got != 0 {
		t.Errorf("samples = %d, want 0 for empty source", got)
	}
}

func TestSampler_StopIsIdempotent(t *testing.T) {
	writer := &recordingWriter{}
	source := func() map[string]int { return nil }

	sampler := NewSampler(writer, source, 10*time.Millisecond, nil)
	sampler.Start(context.Background())

	sampler.Stop()
	sampler.Stop() // Must not panic or deadlock.
}

func TestSampler_ContextCancellation(t *testing.T) {
	writer := &recordingWriter{}
	source := func() map[string]int {
		return map[string]int{"srv-self0003": os.Getpid()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sampler := NewSampler(writer, source, 10*time.Millisecond, nil)
	sampler.Start(ctx)

	waitForSamples(t, writer, 1)
	cancel()

	// After cancellation the loop should wind down; Stop still works.
	sampler.Stop()
}

func TestSampler_DefaultInterval(t *testing.T) {
	sampler := NewSampler(&recordingWriter{}, func() map[string]int { return nil }, 0, nil)
	if sampler.interval != defaultSampleInterval {
		t.Errorf("interval = %v, want %v", sampler.interval, defaultSampleInterval)
	}
}
