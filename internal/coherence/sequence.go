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

// windowSize is the fixed sliding-window width of pass 2. Windows overlap
// with stride 1, so N scenes yield N-2 windows.
const windowSize = 3

// SequenceAnalyzer is pass 2: it scores narrative flow, pacing and theme
// over overlapping three-scene windows.
type SequenceAnalyzer struct {
	analyzer  ai.Analyzer
	limits    config.Limits
	model     string
	logger    *slog.Logger
	modelUsed string
}

func NewSequenceAnalyzer(analyzer ai.Analyzer, limits config.Limits, model string) *SequenceAnalyzer {
	return &SequenceAnalyzer{
		analyzer: analyzer,
		limits:   limits,
		model:    model,
		logger:   slog.Default().With("component", "sequence_analyzer", "pass", 2),
	}
}

func (s *SequenceAnalyzer) ModelUsed() string { return s.modelUsed }

// windowResult is one window's contribution before consolidation.
type windowResult struct {
	flow   []NarrativeFlowIssue
	pacing []PacingIssue
	theme  []ThematicDiscontinuity
}

// AnalyzeSequences slides a three-scene window over the manuscript in
// settle-all batches. A window whose AI call throws gets the deterministic
// tension heuristics; cancellation between batches keeps what's done.
func (s *SequenceAnalyzer) AnalyzeSequences(ctx context.Context, scenes []CompressedScene, emit passEmitFunc) (SequenceAnalysis, error) {
	if len(scenes) < windowSize {
		return SequenceAnalysis{}, nil
	}

	totalWindows := len(scenes) - windowSize + 1
	windows := make([]*windowResult, 0, totalWindows)

	batchSize := s.limits.SequenceBatchSize
	for start := 0; start < totalWindows; start += batchSize {
		if ctx.Err() != nil {
			s.logger.Info("sequence pass cancelled", "windows_done", len(windows), "total", totalWindows)
			return consolidateResults(windows), nil
		}

		end := start + batchSize
		if end > totalWindows {
			end = totalWindows
		}

		type settled struct {
			result *windowResult
			model  string
			err    error
		}
		batch := make([]settled, end-start)

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				res, model, err := s.analyzeWindow(gctx, scenes[i:i+windowSize])
				batch[i-start] = settled{result: res, model: model, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for idx, st := range batch {
			windowStart := start + idx
			if st.err != nil {
				if ai.IsFatal(st.err) {
					return consolidateResults(windows), st.err
				}
				// A thrown AI call gets the tension heuristics. (A window
				// the provider rejected outright is logged and omitted.)
				s.logger.Warn("window analysis failed, applying tension heuristics",
					"window_start", windowStart, "error", st.err)
				windows = append(windows, fallbackWindow(scenes[windowStart:windowStart+windowSize]))
				continue
			}
			if st.model != "" {
				s.modelUsed = st.model
			}
			if st.result == nil {
				s.logger.Warn("window rejected by provider, omitting", "window_start", windowStart)
				continue
			}
			windows = append(windows, st.result)
		}

		percent := math.Floor(float64(end) / float64(totalWindows) * 100)
		if percent > 100 {
			percent = 100
		}
		if emit != nil {
			emit(percent, scenes[end-1].ID, end+windowSize-1)
		}
	}

	return consolidateResults(windows), nil
}

func (s *SequenceAnalyzer) analyzeWindow(ctx context.Context, window []CompressedScene) (*windowResult, string, error) {
	var b strings.Builder
	for _, cs := range window {
		fmt.Fprintf(&b, "Scene %s (tone=%s tension=%d): %s\n",
			cs.ID, cs.Metadata.EmotionalTone, cs.Metadata.TensionLevel, cs.Summary)
	}

	resp, err := s.analyzer.Analyze(ctx, ai.Request{
		Scene:        b.String(),
		AnalysisType: "sequence",
		ReaderContext: "Analyze the narrative flow, pacing and thematic continuity of these three consecutive scenes. " +
			"Return JSON: {\"flowIssues\": [..], \"pacingIssues\": [..], \"themeIssues\": [..], \"issues\": [..]} " +
			"where each issue has severity, description, affectedScenes, pattern.",
		Options: ai.Options{Model: s.model, ForceJSON: true},
	})
	if err != nil {
		return nil, "", err
	}

	// A reply the client could not parse at all counts as a rejected
	// window: logged and omitted, no fallback issue synthesized.
	if _, unparsed := resp.Data["raw"]; unparsed && len(resp.Issues) == 0 {
		return nil, resp.Metadata.ModelUsed, nil
	}

	ids := sceneIDs(window)
	d := newDecoder(resp.Data)
	res := &windowResult{}

	for _, obj := range d.Objects("flowIssues") {
		res.flow = append(res.flow, NarrativeFlowIssue{
			Severity:       normalizeSeverity(obj.String("", "severity")),
			Description:    obj.String("", "description"),
			AffectedScenes: affectedOrAll(obj, ids),
			Pattern:        normalizeFlowPattern(obj.String("", "pattern", "type")),
		})
	}
	for _, obj := range d.Objects("pacingIssues") {
		res.pacing = append(res.pacing, PacingIssue{
			Severity:       normalizeSeverity(obj.String("", "severity")),
			Description:    obj.String("", "description"),
			AffectedScenes: affectedOrAll(obj, ids),
			Pattern:        normalizePacingPattern(obj.String("", "pattern", "type")),
			TensionDelta:   obj.Int(0, 0, 10, "tensionDelta"),
		})
	}
	for _, obj := range d.Objects("themeIssues", "thematicIssues") {
		res.theme = append(res.theme, ThematicDiscontinuity{
			Severity:       normalizeSeverity(obj.String("", "severity")),
			Description:    obj.String("", "description"),
			AffectedScenes: affectedOrAll(obj, ids),
			Pattern:        normalizeThemePattern(obj.String("", "pattern", "type")),
		})
	}

	// Generic issues without an explicitly typed array are classified into
	// the three buckets by type/keyword.
	for _, issue := range resp.Issues {
		s.classifyGenericIssue(res, issue, ids)
	}

	return res, resp.Metadata.ModelUsed, nil
}

func (s *SequenceAnalyzer) classifyGenericIssue(res *windowResult, issue ai.ProviderIssue, ids []string) {
	lower := strings.ToLower(issue.Type + " " + issue.Description)
	severity := normalizeSeverity(issue.Severity)

	switch {
	case strings.Contains(lower, "pacing") || strings.Contains(lower, "pace") || strings.Contains(lower, "slow") || strings.Contains(lower, "rush"):
		res.pacing = append(res.pacing, PacingIssue{
			Severity:       severity,
			Description:    issue.Description,
			AffectedScenes: ids,
			Pattern:        normalizePacingPattern(lower),
		})
	case strings.Contains(lower, "theme") || strings.Contains(lower, "thematic") || strings.Contains(lower, "motif"):
		res.theme = append(res.theme, ThematicDiscontinuity{
			Severity:       severity,
			Description:    issue.Description,
			AffectedScenes: ids,
			Pattern:        normalizeThemePattern(lower),
		})
	default:
		res.flow = append(res.flow, NarrativeFlowIssue{
			Severity:       severity,
			Description:    issue.Description,
			AffectedScenes: ids,
			Pattern:        normalizeFlowPattern(lower),
		})
	}
}

// fallbackWindow applies the deterministic tension heuristics: variance
// above 10 flags inconsistent pacing with the max-min delta; average
// tension below 3 flags a passive sequence.
func fallbackWindow(window []CompressedScene) *windowResult {
	ids := sceneIDs(window)
	res := &windowResult{}

	minT, maxT := window[0].Metadata.TensionLevel, window[0].Metadata.TensionLevel
	sum := 0
	for _, cs := range window {
		t := cs.Metadata.TensionLevel
		if t < minT {
			minT = t
		}
		if t > maxT {
			maxT = t
		}
		sum += t
	}
	mean := float64(sum) / float64(len(window))

	variance := 0.0
	for _, cs := range window {
		diff := float64(cs.Metadata.TensionLevel) - mean
		variance += diff * diff
	}
	variance /= float64(len(window))

	if variance > 10 {
		res.pacing = append(res.pacing, PacingIssue{
			Severity:       SeverityShouldFix,
			Description:    fmt.Sprintf("Tension swings sharply across scenes %s", strings.Join(ids, ", ")),
			AffectedScenes: ids,
			Pattern:        PacingInconsistent,
			TensionDelta:   maxT - minT,
		})
	}

	if mean < 3 {
		res.flow = append(res.flow, NarrativeFlowIssue{
			Severity:       SeverityConsider,
			Description:    fmt.Sprintf("Sequence %s stays passive throughout", strings.Join(ids, ", ")),
			AffectedScenes: ids,
			Pattern:        FlowPassiveSequence,
		})
	}

	return res
}

// consolidateResults merges window results, deduplicating each issue family
// globally by a composite key so overlapping windows don't repeat findings.
func consolidateResults(windows []*windowResult) SequenceAnalysis {
	var out SequenceAnalysis
	seenFlow := map[string]bool{}
	seenPacing := map[string]bool{}
	seenTheme := map[string]bool{}

	for _, w := range windows {
		for _, issue := range w.flow {
			key := issue.Description + "|" + strings.Join(issue.AffectedScenes, ",") + "|" + string(issue.Pattern)
			if !seenFlow[key] {
				seenFlow[key] = true
				out.FlowIssues = append(out.FlowIssues, issue)
			}
		}
		for _, issue := range w.pacing {
			key := fmt.Sprintf("%s|%s|%s|%d", issue.Description, strings.Join(issue.AffectedScenes, ","), issue.Pattern, issue.TensionDelta)
			if !seenPacing[key] {
				seenPacing[key] = true
				out.PacingIssues = append(out.PacingIssues, issue)
			}
		}
		for _, issue := range w.theme {
			key := issue.Description + "|" + strings.Join(issue.AffectedScenes, ",") + "|" + string(issue.Pattern)
			if !seenTheme[key] {
				seenTheme[key] = true
				out.ThemeIssues = append(out.ThemeIssues, issue)
			}
		}
	}

	return out
}

func sceneIDs(scenes []CompressedScene) []string {
	ids := make([]string, len(scenes))
	for i, cs := range scenes {
		ids[i] = cs.ID
	}
	return ids
}

func affectedOrAll(obj *decoder, fallback []string) []string {
	if ids := obj.StringSlice("affectedScenes", "affectedSceneIds", "scenes"); len(ids) > 0 {
		return ids
	}
	return fallback
}

func normalizeFlowPattern(raw string) FlowPattern {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "caus"):
		return FlowBrokenCausality
	case strings.Contains(lower, "passive"):
		return FlowPassiveSequence
	case strings.Contains(lower, "setup") || strings.Contains(lower, "set-up"):
		return FlowMissingSetup
	case strings.Contains(lower, "repeti"):
		return FlowRepetitiveStructure
	default:
		return FlowBrokenCausality
	}
}

func normalizePacingPattern(raw string) PacingPattern {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "slow") || strings.Contains(lower, "drag"):
		return PacingTooSlow
	case strings.Contains(lower, "fast") || strings.Contains(lower, "rush"):
		return PacingTooFast
	default:
		return PacingInconsistent
	}
}

func normalizeThemePattern(raw string) ThemePattern {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "abandon") || strings.Contains(lower, "dropped"):
		return ThemeAbandoned
	case strings.Contains(lower, "contradict"):
		return ThemeContradictory
	default:
		return ThemeDiluted
	}
}
