package coherence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
	"github.com/dotcommander/coherence/internal/manuscript"
)

// Pass names as they appear in progress snapshots and ModelsUsed.
const (
	passTransitions = "scene_transitions"
	passSequences   = "sequence_flow"
	passChapters    = "chapter_coherence"
	passArc         = "manuscript_arc"
	passSynthesis   = "synthesis"
)

// ErrNoScenes is returned when the manuscript has nothing to analyze.
var ErrNoScenes = errors.New("manuscript has no scenes")

var validate = validator.New()

// Pipeline runs the five coherence passes over a manuscript. A single
// Pipeline is safe to reuse across runs; Cancel interrupts the run in
// flight.
type Pipeline struct {
	analyzer ai.Analyzer
	cfg      *config.Config
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPipeline(analyzer ai.Analyzer, cfg *config.Config) *Pipeline {
	return &Pipeline{
		analyzer: analyzer,
		cfg:      cfg,
		logger:   slog.Default().With("component", "coherence_pipeline"),
	}
}

// Cancel stops the run in flight, if any. The run winds down
// cooperatively: completed passes keep their results and
// AnalyzeGlobalCoherence returns them without error.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
}

// AnalyzeGlobalCoherence runs every enabled pass in order. Pass failures
// are recorded in progress and the run moves on; only credential errors
// abort, returning whatever was computed so far alongside the error.
func (p *Pipeline) AnalyzeGlobalCoherence(ctx context.Context, m *manuscript.Manuscript, settings Settings, onProgress ProgressFunc) (*GlobalCoherenceAnalysis, error) {
	if m == nil || len(m.Scenes) == 0 {
		return nil, ErrNoScenes
	}
	if err := validate.Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	start := time.Now()
	model := p.cfg.Analysis.ModelForDepth(settings.Depth)
	limits := p.cfg.Limits

	passes := enabledPasses(settings)
	tracker := newProgressTracker(onProgress, len(passes), len(m.Scenes))

	result := &GlobalCoherenceAnalysis{
		RunID:      uuid.New().String(),
		ModelsUsed: make(map[string]string),
		Settings:   settings,
	}

	p.logger.Info("starting analysis",
		"run_id", result.RunID,
		"title", m.Title,
		"scenes", len(m.Scenes),
		"passes", len(passes),
		"depth", settings.Depth)

	// Quick depth never spends calls on scene summaries.
	aiSummaries := p.cfg.Analysis.AISummaries && settings.Depth != "quick"
	compressor := NewCompressor(p.analyzer, limits, aiSummaries, model)
	compressed := compressor.PrepareScenes(ctx, m.Scenes)

	if !settings.EnableArc {
		result.ManuscriptLevel = DefaultManuscriptAnalysis(compressed)
	}

	number := 0
	for _, pass := range passes {
		if ctx.Err() != nil {
			tracker.markCancelled()
			finalize(result, start)
			return result, nil
		}
		number++
		tracker.beginPass(number, pass)

		var (
			used string
			err  error
		)
		switch pass {
		case passTransitions:
			analyzer := NewTransitionAnalyzer(p.analyzer, limits, model)
			result.SceneLevel, err = analyzer.AnalyzeTransitions(ctx, compressed, tracker.emitFunc())
			used = analyzer.ModelUsed()
		case passSequences:
			analyzer := NewSequenceAnalyzer(p.analyzer, limits, model)
			result.SequenceLevel, err = analyzer.AnalyzeSequences(ctx, compressed, tracker.emitFunc())
			used = analyzer.ModelUsed()
		case passChapters:
			analyzer := NewChapterAnalyzer(p.analyzer, limits, model)
			result.ChapterLevel, err = analyzer.AnalyzeChapters(ctx, m.Scenes, compressed, tracker.emitFunc())
			used = analyzer.ModelUsed()
		case passArc:
			validator := NewArcValidator(p.analyzer, limits, p.cfg.Analysis.ArcModel)
			result.ManuscriptLevel, err = validator.ValidateArc(ctx, compressed, compressor.Skeleton(compressed))
			used = validator.ModelUsed()
		case passSynthesis:
			engine := NewSynthesisEngine(p.analyzer, limits, model)
			result.Synthesis, err = engine.SynthesizeFindings(ctx, result.SceneLevel, result.SequenceLevel, result.ChapterLevel, result.ManuscriptLevel)
			used = engine.ModelUsed()
		}

		if used != "" {
			result.ModelsUsed[pass] = used
		}
		if err != nil {
			if ai.IsFatal(err) {
				tracker.recordError(fmt.Sprintf("%s: %v", pass, err))
				finalize(result, start)
				return result, fmt.Errorf("%s: %w", pass, err)
			}
			p.logger.Warn("pass failed, continuing", "pass", pass, "error", err)
			tracker.recordError(fmt.Sprintf("%s: %v", pass, err))
			continue
		}
		tracker.completePass()
	}

	if ctx.Err() != nil {
		tracker.markCancelled()
	}
	finalize(result, start)

	p.logger.Info("analysis complete",
		"run_id", result.RunID,
		"duration", result.TotalAnalysisTime,
		"errors", len(tracker.snapshot().Errors))

	return result, nil
}

func finalize(result *GlobalCoherenceAnalysis, start time.Time) {
	result.Timestamp = time.Now()
	result.TotalAnalysisTime = time.Since(start)
}

func enabledPasses(settings Settings) []string {
	var passes []string
	if settings.EnableTransitions {
		passes = append(passes, passTransitions)
	}
	if settings.EnableSequences {
		passes = append(passes, passSequences)
	}
	if settings.EnableChapters {
		passes = append(passes, passChapters)
	}
	if settings.EnableArc {
		passes = append(passes, passArc)
	}
	if settings.EnableSynthesis {
		passes = append(passes, passSynthesis)
	}
	return passes
}
