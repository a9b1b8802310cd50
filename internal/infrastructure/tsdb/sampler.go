package tsdb

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// defaultSampleInterval is how often the sampler polls running processes.
const defaultSampleInterval = 15 * time.Second

// ResourceWriter receives resource samples from the Sampler.
// *Client satisfies this; tests substitute a recording fake.
type ResourceWriter interface {
	WriteResourceSample(serverID string, cpuPercent float64, rssBytes uint64)
}

// PIDSource reports the currently running servers as serverID -> PID.
// Servers without a live process are simply absent from the map.
type PIDSource func() map[string]int

// Logger interface for optional sampler logging.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sampler periodically polls the OS for CPU and memory usage of every
// running game server process and records the samples.
//
// CPU percentages are computed from consecutive readings, so the first
// sample for a freshly started process reports 0.
type Sampler struct {
	writer   ResourceWriter
	source   PIDSource
	interval time.Duration
	logger   Logger

	// procs caches process handles between ticks so CPU percentages
	// can diff against the previous reading.
	procs map[string]*process.Process

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewSampler creates a sampler that polls source every interval and
// writes samples through writer. A zero interval uses the default.
func NewSampler(writer ResourceWriter, source PIDSource, interval time.Duration, logger Logger) *Sampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sampler{
		writer:   writer,
		source:   source,
		interval: interval,
		logger:   logger,
		procs:    make(map[string]*process.Process),
		done:     make(chan struct{}),
	}
}

// Start launches the background sampling loop. It returns immediately;
// call Stop (or cancel ctx) to shut the loop down.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sampleAll()
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
// Safe to call more than once.
func (s *Sampler) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// sampleAll takes one resource sample for every running server.
func (s *Sampler) sampleAll() {
	pids := s.source()

	// Drop cached handles for servers that are no longer running or
	// whose process was replaced by a restart.
	for serverID, proc := range s.procs {
		pid, ok := pids[serverID]
		if !ok || int32(pid) != proc.Pid {
			delete(s.procs, serverID)
		}
	}

	for serverID, pid := range pids {
		if pid <= 0 {
			continue
		}

		proc, ok := s.procs[serverID]
		if !ok {
			var err error
			proc, err = process.NewProcess(int32(pid))
			if err != nil {
				// Process exited between the snapshot and now.
				s.logger.Debug("telemetry sample skipped, process gone",
					"server_id", serverID, "pid", pid)
				continue
			}
			s.procs[serverID] = proc
		}

		// Percent(0) diffs against the previous call on the same
		// handle, which is why handles are cached between ticks.
		cpuPercent, err := proc.Percent(0)
		if err != nil {
			s.logger.Warn("cpu sample failed",
				"server_id", serverID, "pid", pid, "error", err)
			delete(s.procs, serverID)
			continue
		}

		memInfo, err := proc.MemoryInfo()
		if err != nil {
			s.logger.Warn("memory sample failed",
				"server_id", serverID, "pid", pid, "error", err)
			delete(s.procs, serverID)
			continue
		}

		s.writer.WriteResourceSample(serverID, cpuPercent, memInfo.RSS)
	}
}
