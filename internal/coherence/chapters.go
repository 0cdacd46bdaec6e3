package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
	"github.com/dotcommander/coherence/internal/manuscript"
)

// chapterMarker matches an explicit "Chapter N" heading. Only the first 200
// characters of a scene's raw text are searched.
var chapterMarker = regexp.MustCompile(`(?i)\bchapter\s+([0-9]+|[ivxlc]+)\b`)

// ChapterAnalyzer is pass 3: it scores the coherence of scene groups
// forming chapters, one sequential AI call per chapter.
type ChapterAnalyzer struct {
	analyzer  ai.Analyzer
	limits    config.Limits
	model     string
	logger    *slog.Logger
	modelUsed string
}

func NewChapterAnalyzer(analyzer ai.Analyzer, limits config.Limits, model string) *ChapterAnalyzer {
	return &ChapterAnalyzer{
		analyzer: analyzer,
		limits:   limits,
		model:    model,
		logger:   slog.Default().With("component", "chapter_analyzer", "pass", 3),
	}
}

func (c *ChapterAnalyzer) ModelUsed() string { return c.modelUsed }

// DetectChapters groups scene indices into chapters. A boundary is either
// an explicit "Chapter N" marker in the first 200 characters of the raw
// scene text, or the hard fallback of ScenesPerChapter scenes since the
// last boundary, whichever triggers first. Scene 0 always starts chapter 1.
func (c *ChapterAnalyzer) DetectChapters(scenes []manuscript.Scene) [][]int {
	if len(scenes) == 0 {
		return nil
	}

	var chapters [][]int
	current := []int{0}

	for i := 1; i < len(scenes); i++ {
		head := sceneHead(scenes[i].Text, 200)
		if chapterMarker.MatchString(head) || len(current) >= c.limits.ScenesPerChapter {
			chapters = append(chapters, current)
			current = []int{i}
			continue
		}
		current = append(current, i)
	}
	chapters = append(chapters, current)

	return chapters
}

// sceneHead returns the first n characters of text, counted in runes so a
// multibyte character near the cutoff is never split.
func sceneHead(text string, n int) string {
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

// AnalyzeChapters analyzes each detected chapter sequentially, checking for
// cancellation between chapters. An AI failure yields the deterministic
// heuristic analysis; only fatal credential errors abort the pass.
func (c *ChapterAnalyzer) AnalyzeChapters(ctx context.Context, scenes []manuscript.Scene, compressed []CompressedScene, emit passEmitFunc) ([]ChapterFlowAnalysis, error) {
	chapters := c.DetectChapters(scenes)
	results := make([]ChapterFlowAnalysis, 0, len(chapters))

	scenesDone := 0
	for num, indices := range chapters {
		if ctx.Err() != nil {
			c.logger.Info("chapter pass cancelled", "chapters_done", len(results), "total", len(chapters))
			return results, nil
		}

		group := make([]CompressedScene, 0, len(indices))
		for _, idx := range indices {
			if idx < len(compressed) {
				group = append(group, compressed[idx])
			}
		}

		analysis, err := c.analyzeChapter(ctx, num+1, group)
		if err != nil {
			if ai.IsFatal(err) {
				return results, err
			}
			c.logger.Warn("chapter analysis failed, applying heuristic",
				"chapter", num+1, "error", err)
			analysis = heuristicChapter(num+1, group)
		}
		results = append(results, analysis)

		scenesDone += len(indices)
		percent := math.Floor(float64(num+1) / float64(len(chapters)) * 100)
		if percent > 100 {
			percent = 100
		}
		if emit != nil && len(group) > 0 {
			emit(percent, group[len(group)-1].ID, scenesDone)
		}
	}

	return results, nil
}

func (c *ChapterAnalyzer) analyzeChapter(ctx context.Context, number int, group []CompressedScene) (ChapterFlowAnalysis, error) {
	var b strings.Builder
	for _, cs := range group {
		fmt.Fprintf(&b, "Scene %s (tension=%d): %s\n", cs.ID, cs.Metadata.TensionLevel, cs.Summary)
	}

	resp, err := c.analyzer.Analyze(ctx, ai.Request{
		Scene:        b.String(),
		AnalysisType: "chapter",
		ReaderContext: fmt.Sprintf(
			"Evaluate chapter %d as a unit. Return JSON: {\"coherenceScore\": 0..1, "+
				"\"problems\": {\"unity\", \"completeness\", \"pacing\", \"purpose\"} (true when the dimension has a problem), "+
				"\"recommendations\": {\"split\", \"mergeWithNext\", \"orphanedScenes\": [..]}, "+
				"\"pacingProfile\": {\"frontLoaded\", \"saggyMiddle\", \"rushedEnding\"}}.", number),
		Options: ai.Options{Model: c.model, ForceJSON: true},
	})
	if err != nil {
		return ChapterFlowAnalysis{}, err
	}
	if resp.Metadata.ModelUsed != "" {
		c.modelUsed = resp.Metadata.ModelUsed
	}

	d := newDecoder(resp.Data)

	// The provider reports "problem present" flags; storage is inverted to
	// "dimension healthy". Downstream consumers rely on this polarity --
	// do not flip it without auditing them.
	analysis := ChapterFlowAnalysis{
		ChapterNumber:  number,
		SceneIDs:       sceneIDs(group),
		CoherenceScore: d.Float(0.5, 0, 1, "coherenceScore", "score"),
		Health: ChapterHealth{
			Unity:            !d.Bool(false, "problems.unity", "unityProblem"),
			Completeness:     !d.Bool(false, "problems.completeness", "completenessProblem"),
			BalancedPacing:   !d.Bool(false, "problems.pacing", "pacingProblem"),
			NarrativePurpose: !d.Bool(false, "problems.purpose", "purposeProblem"),
		},
		Recommendations: ChapterRecommendations{
			Split:            d.Bool(false, "recommendations.split", "split"),
			MergeWithNext:    d.Bool(false, "recommendations.mergeWithNext", "mergeWithNext"),
			OrphanedSceneIDs: d.StringSlice("recommendations.orphanedScenes", "orphanedScenes"),
		},
		PacingProfile: PacingProfile{
			FrontLoaded:  d.Bool(false, "pacingProfile.frontLoaded", "frontLoaded"),
			SaggyMiddle:  d.Bool(false, "pacingProfile.saggyMiddle", "saggyMiddle"),
			RushedEnding: d.Bool(false, "pacingProfile.rushedEnding", "rushedEnding"),
		},
	}

	return analysis, nil
}

// heuristicChapter is the fully deterministic fallback, a pure function of
// the group's scene count and tension metadata.
func heuristicChapter(number int, group []CompressedScene) ChapterFlowAnalysis {
	n := len(group)

	front, middle, end := tensionThirds(group)

	frontEndDelta := front - end
	if frontEndDelta < 0 {
		frontEndDelta = -frontEndDelta
	}

	avg := 0.0
	for _, cs := range group {
		avg += float64(cs.Metadata.TensionLevel)
	}
	if n > 0 {
		avg /= float64(n)
	}

	health := ChapterHealth{
		Unity:            n <= 15,
		Completeness:     n >= 3,
		BalancedPacing:   frontEndDelta <= 3,
		NarrativePurpose: avg >= 3,
	}

	healthy := 0
	for _, ok := range []bool{health.Unity, health.Completeness, health.BalancedPacing, health.NarrativePurpose} {
		if ok {
			healthy++
		}
	}
	score := float64(healthy) / 4.0

	return ChapterFlowAnalysis{
		ChapterNumber:  number,
		SceneIDs:       sceneIDs(group),
		CoherenceScore: score,
		Health:         health,
		Recommendations: ChapterRecommendations{
			Split:         n > 15,
			MergeWithNext: n < 3,
		},
		PacingProfile: PacingProfile{
			FrontLoaded:  front > middle+2 && front > end+2,
			SaggyMiddle:  middle < front-3 && middle < end-3,
			RushedEnding: end > front+3 && end > middle+3,
		},
	}
}

// tensionThirds averages tension over the front, middle and end thirds of
// the chapter. Short chapters collapse gracefully: a third can be empty,
// contributing zero.
func tensionThirds(group []CompressedScene) (front, middle, end float64) {
	n := len(group)
	if n == 0 {
		return 0, 0, 0
	}

	third := n / 3
	if third == 0 {
		third = 1
	}

	avg := func(sub []CompressedScene) float64 {
		if len(sub) == 0 {
			return 0
		}
		sum := 0
		for _, cs := range sub {
			sum += cs.Metadata.TensionLevel
		}
		return float64(sum) / float64(len(sub))
	}

	frontEnd := third
	middleEnd := n - third
	if middleEnd < frontEnd {
		middleEnd = frontEnd
	}

	return avg(group[:frontEnd]), avg(group[frontEnd:middleEnd]), avg(group[middleEnd:])
}
