package coherence

import (
	"sync"
	"time"
)

// passEmitFunc is the pass-local progress callback each analysis pass
// receives. percent is the pass's own completion in [0,100].
type passEmitFunc func(percent float64, currentScene string, scenesAnalyzed int)

// progressTracker turns pass-local progress into run-wide Progress
// snapshots for the caller. Snapshots are value copies, so a consumer
// holding one never observes later mutation.
type progressTracker struct {
	mu         sync.Mutex
	onProgress ProgressFunc
	started    time.Time

	totalPasses    int
	totalScenes    int
	passNumber     int
	passName       string
	passPercent    float64
	scenesAnalyzed int
	currentScene   string
	errors         []string
	cancelled      bool
}

func newProgressTracker(onProgress ProgressFunc, totalPasses, totalScenes int) *progressTracker {
	return &progressTracker{
		onProgress:  onProgress,
		started:     time.Now(),
		totalPasses: totalPasses,
		totalScenes: totalScenes,
	}
}

func (p *progressTracker) beginPass(number int, name string) {
	p.mu.Lock()
	p.passNumber = number
	p.passName = name
	p.passPercent = 0
	p.scenesAnalyzed = 0
	p.currentScene = ""
	p.emitLocked()
	p.mu.Unlock()
}

func (p *progressTracker) completePass() {
	p.mu.Lock()
	p.passPercent = 100
	p.emitLocked()
	p.mu.Unlock()
}

// emitFunc adapts the tracker into the per-pass callback shape.
func (p *progressTracker) emitFunc() passEmitFunc {
	return func(percent float64, currentScene string, scenesAnalyzed int) {
		p.mu.Lock()
		p.passPercent = percent
		p.currentScene = currentScene
		p.scenesAnalyzed = scenesAnalyzed
		p.emitLocked()
		p.mu.Unlock()
	}
}

func (p *progressTracker) recordError(msg string) {
	p.mu.Lock()
	p.errors = append(p.errors, msg)
	p.mu.Unlock()
}

func (p *progressTracker) markCancelled() {
	p.mu.Lock()
	p.cancelled = true
	p.emitLocked()
	p.mu.Unlock()
}

func (p *progressTracker) snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *progressTracker) snapshotLocked() Progress {
	return Progress{
		CurrentPass:            p.passName,
		PassNumber:             p.passNumber,
		TotalPasses:            p.totalPasses,
		PassProgress:           p.passPercent,
		ScenesAnalyzed:         p.scenesAnalyzed,
		TotalScenes:            p.totalScenes,
		CurrentScene:           p.currentScene,
		EstimatedTimeRemaining: p.etaLocked(),
		Errors:                 append([]string(nil), p.errors...),
		Cancelled:              p.cancelled,
	}
}

func (p *progressTracker) emitLocked() {
	if p.onProgress == nil {
		return
	}
	p.onProgress(p.snapshotLocked())
}

// etaLocked extrapolates from the overall completed fraction:
// remaining = elapsed/fraction - elapsed. Zero until there is signal.
func (p *progressTracker) etaLocked() time.Duration {
	if p.totalPasses == 0 || p.passNumber == 0 {
		return 0
	}
	fraction := (float64(p.passNumber-1) + p.passPercent/100) / float64(p.totalPasses)
	if fraction <= 0 {
		return 0
	}
	elapsed := time.Since(p.started)
	remaining := time.Duration(float64(elapsed)/fraction) - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
