package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
)

// oppositeTones is the fixed table of emotional whiplash pairs checked by
// the transition fallback heuristic.
var oppositeTones = [][2]Tone{
	{ToneHappy, ToneSad},
	{ToneTense, ToneRelaxed},
	{ToneSuspense, TonePeaceful},
	{ToneAngry, ToneCalm},
}

// TransitionAnalyzer is pass 1: it scores every adjacent scene-pair
// boundary, producing exactly N-1 analyses for N scenes.
type TransitionAnalyzer struct {
	analyzer  ai.Analyzer
	limits    config.Limits
	model     string
	logger    *slog.Logger
	modelUsed string
}

func NewTransitionAnalyzer(analyzer ai.Analyzer, limits config.Limits, model string) *TransitionAnalyzer {
	return &TransitionAnalyzer{
		analyzer: analyzer,
		limits:   limits,
		model:    model,
		logger:   slog.Default().With("component", "transition_analyzer", "pass", 1),
	}
}

// ModelUsed reports the provider model observed during the pass, if any.
func (t *TransitionAnalyzer) ModelUsed() string { return t.modelUsed }

// AnalyzeTransitions produces one ScenePairAnalysis per adjacent pair, in
// position order. Pairs are processed in settle-all batches: a failed pair
// gets a deterministic heuristic fallback and never fails its batch. Only
// fatal credential errors abort the pass. Cancellation between batches
// returns the pairs analyzed so far.
func (t *TransitionAnalyzer) AnalyzeTransitions(ctx context.Context, scenes []CompressedScene, emit passEmitFunc) ([]ScenePairAnalysis, error) {
	if len(scenes) < 2 {
		return []ScenePairAnalysis{}, nil
	}

	totalPairs := len(scenes) - 1
	results := make([]ScenePairAnalysis, 0, totalPairs)

	batchSize := t.limits.TransitionBatchSize
	for start := 0; start < totalPairs; start += batchSize {
		if ctx.Err() != nil {
			t.logger.Info("transition pass cancelled", "pairs_done", len(results), "total", totalPairs)
			return results, nil
		}

		end := start + batchSize
		if end > totalPairs {
			end = totalPairs
		}

		type settled struct {
			pair  ScenePairAnalysis
			model string
			err   error
		}
		batch := make([]settled, end-start)

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				pair, model, err := t.analyzePair(gctx, scenes[i], scenes[i+1], i)
				batch[i-start] = settled{pair: pair, model: model, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for idx, s := range batch {
			position := start + idx
			if s.err != nil {
				if ai.IsFatal(s.err) {
					return results, s.err
				}
				t.logger.Warn("pair analysis failed, applying heuristic fallback",
					"position", position, "error", s.err)
				results = append(results, t.fallbackPair(scenes[position], scenes[position+1], position))
				continue
			}
			if s.model != "" {
				t.modelUsed = s.model
			}
			results = append(results, s.pair)
		}

		percent := math.Floor(float64(end) / float64(totalPairs) * 100)
		if percent > 100 {
			percent = 100
		}
		if emit != nil {
			emit(percent, scenes[end-1].ID, end+1)
		}
	}

	return results, nil
}

func (t *TransitionAnalyzer) analyzePair(ctx context.Context, a, b CompressedScene, position int) (ScenePairAnalysis, string, error) {
	req := ai.Request{
		Scene:          fmt.Sprintf("Scene B (id %s) opening:\n%s", b.ID, b.OpeningExcerpt),
		PreviousScenes: []string{fmt.Sprintf("Scene A (id %s) closing:\n%s", a.ID, a.ClosingExcerpt)},
		AnalysisType:   "transition",
		ReaderContext: fmt.Sprintf(
			"Evaluate the transition between two adjacent scenes. Scene A tone=%s tension=%d; Scene B tone=%s tension=%d. "+
				"Return JSON: {\"transitionScore\": 0..1, \"issues\": [{\"type\", \"severity\", \"description\", \"suggestion\"}], "+
				"\"strengths\": [..], \"flags\": {\"needsSceneBreak\", \"needsTransitionScene\", \"chapterBoundaryCandidate\"}}.",
			a.Metadata.EmotionalTone, a.Metadata.TensionLevel, b.Metadata.EmotionalTone, b.Metadata.TensionLevel),
		Options: ai.Options{Model: t.model, ForceJSON: true},
	}

	resp, err := t.analyzer.Analyze(ctx, req)
	if err != nil {
		return ScenePairAnalysis{}, "", err
	}

	d := newDecoder(resp.Data)
	pair := ScenePairAnalysis{
		SceneAID:        a.ID,
		SceneBID:        b.ID,
		Position:        position,
		TransitionScore: d.Float(0.5, 0, 1, "transitionScore", "score", "analysis.transitionScore"),
		Strengths:       d.StringSlice("strengths"),
		Flags: TransitionFlags{
			NeedsSceneBreak:          d.Bool(false, "flags.needsSceneBreak", "needsSceneBreak"),
			NeedsTransitionScene:     d.Bool(false, "flags.needsTransitionScene", "needsTransitionScene"),
			ChapterBoundaryCandidate: d.Bool(false, "flags.chapterBoundaryCandidate", "chapterBoundaryCandidate"),
		},
	}

	for _, issue := range resp.Issues {
		pair.Issues = append(pair.Issues, TransitionIssue{
			Type:        normalizeTransitionType(issue.Type),
			Severity:    normalizeSeverity(issue.Severity),
			Description: issue.Description,
			Suggestion:  issue.Suggestion,
		})
	}

	return pair, resp.Metadata.ModelUsed, nil
}

// fallbackPair is a pure function of scene metadata: identical tones and
// tension levels produce identical analyses on every call.
func (t *TransitionAnalyzer) fallbackPair(a, b CompressedScene, position int) ScenePairAnalysis {
	var issues []TransitionIssue

	delta := b.Metadata.TensionLevel - a.Metadata.TensionLevel
	if delta < 0 {
		delta = -delta
	}
	if delta > 5 {
		issues = append(issues, TransitionIssue{
			Type:        TransitionJarringPaceChange,
			Severity:    SeverityShouldFix,
			Description: fmt.Sprintf("Tension jumps by %d between scenes %s and %s", delta, a.ID, b.ID),
			Suggestion:  "Bridge the tension shift with a beat of transition",
		})
	}

	if tonesOpposed(a.Metadata.EmotionalTone, b.Metadata.EmotionalTone) {
		issues = append(issues, TransitionIssue{
			Type:        TransitionEmotionalWhiplash,
			Severity:    SeverityShouldFix,
			Description: fmt.Sprintf("Emotional tone flips from %s to %s", a.Metadata.EmotionalTone, b.Metadata.EmotionalTone),
			Suggestion:  "Ease the emotional register change or lean into it deliberately",
		})
	}

	score := 0.7
	if len(issues) > 0 {
		score = 0.5
	}

	return ScenePairAnalysis{
		SceneAID:        a.ID,
		SceneBID:        b.ID,
		Position:        position,
		TransitionScore: score,
		Issues:          issues,
	}
}

func tonesOpposed(a, b Tone) bool {
	for _, pair := range oppositeTones {
		if (a == pair[0] && b == pair[1]) || (a == pair[1] && b == pair[0]) {
			return true
		}
	}
	return false
}

// normalizeTransitionType maps free-form provider types onto the closed
// enum via substring heuristics, defaulting to weak_transition.
func normalizeTransitionType(raw string) TransitionIssueType {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "pace") || strings.Contains(lower, "pacing"):
		return TransitionJarringPaceChange
	case strings.Contains(lower, "emotion") || strings.Contains(lower, "whiplash") || strings.Contains(lower, "tone") || strings.Contains(lower, "tonal"):
		return TransitionEmotionalWhiplash
	case strings.Contains(lower, "time") || strings.Contains(lower, "temporal"):
		return TransitionTimeDiscontinuity
	case strings.Contains(lower, "location") || strings.Contains(lower, "place") || strings.Contains(lower, "setting"):
		return TransitionLocationDiscontinuity
	case strings.Contains(lower, "character") || strings.Contains(lower, "pov") || strings.Contains(lower, "viewpoint"):
		return TransitionCharacterDiscontinuity
	default:
		return TransitionWeak
	}
}

// normalizeSeverity maps free-form provider severities onto the closed
// scale, defaulting to consider.
func normalizeSeverity(raw string) Severity {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "must") || strings.Contains(lower, "critical") || strings.Contains(lower, "high") || strings.Contains(lower, "major"):
		return SeverityMustFix
	case strings.Contains(lower, "should") || strings.Contains(lower, "medium") || strings.Contains(lower, "moderate"):
		return SeverityShouldFix
	default:
		return SeverityConsider
	}
}
