package registry

import (
	"sync"
	"time"
)

// FetchPhase names a band of the simulated fetch progress.
type FetchPhase string

const (
	PhaseConnecting FetchPhase = "connecting"
	PhaseFetching   FetchPhase = "fetching"
	PhaseEnriching  FetchPhase = "enriching"
	PhaseProcessing FetchPhase = "processing"
)

// phaseBand maps a phase to its percentage range. The simulator never
// reaches 100 on its own; Complete jumps there when the real call returns.
type phaseBand struct {
	phase FetchPhase
	from  int
	to    int
}

var phaseBands = []phaseBand{
	{PhaseConnecting, 0, 10},
	{PhaseFetching, 10, 60},
	{PhaseEnriching, 60, 85},
	{PhaseProcessing, 85, 95},
}

// ProgressUpdate is one tick of simulated progress.
type ProgressUpdate struct {
	Phase   FetchPhase
	Percent int
}

// ProgressSimulator advances a cosmetic progress percentage through phase
// bands while a fetch is in flight. It is driven by a local timer, not by
// the server, and has no bearing on the fetch outcome.
type ProgressSimulator struct {
	interval time.Duration
	total    time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	percent int
	running bool
}

// NewProgressSimulator creates a simulator calibrated to an estimated fetch
// duration. Estimates outside 2s-120s are clamped so the bar neither
// flashes nor crawls.
func NewProgressSimulator(estimatedSeconds float64) *ProgressSimulator {
	if estimatedSeconds < 2 {
		estimatedSeconds = 2
	}
	if estimatedSeconds > 120 {
		estimatedSeconds = 120
	}
	total := time.Duration(estimatedSeconds * float64(time.Second))
	return &ProgressSimulator{
		interval: total / 95,
		total:    total,
	}
}

// Start begins advancing progress, invoking onUpdate on each tick. It is a
// no-op if the simulator is already running.
func (s *ProgressSimulator) Start(onUpdate func(ProgressUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.percent = 0
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.ticker.C:
				update, ok := s.advance()
				if !ok {
					return
				}
				onUpdate(update)
			}
		}
	}()
}

// advance moves one percent forward, holding at the top of the last band.
func (s *ProgressSimulator) advance() (ProgressUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ProgressUpdate{}, false
	}
	if s.percent < phaseBands[len(phaseBands)-1].to {
		s.percent++
	}
	return ProgressUpdate{Phase: phaseFor(s.percent), Percent: s.percent}, true
}

// Complete stops the simulator and reports 100 percent.
func (s *ProgressSimulator) Complete(onUpdate func(ProgressUpdate)) {
	if s.stop() && onUpdate != nil {
		onUpdate(ProgressUpdate{Phase: PhaseProcessing, Percent: 100})
	}
}

// Stop halts the simulator without a final update, for cancelled or failed
// fetches.
func (s *ProgressSimulator) Stop() {
	s.stop()
}

func (s *ProgressSimulator) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	s.ticker.Stop()
	close(s.done)
	return true
}

func phaseFor(percent int) FetchPhase {
	for _, band := range phaseBands {
		if percent <= band.to {
			return band.phase
		}
	}
	return PhaseProcessing
}
