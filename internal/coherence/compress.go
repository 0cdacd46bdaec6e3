package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
	"github.com/dotcommander/coherence/internal/manuscript"
)

// Tone keyword classes, checked in fixed precedence order. The first class
// with any hit wins; scenes matching nothing are neutral.
var tonePrecedence = []struct {
	tone     Tone
	keywords []string
}{
	{ToneTense, []string{"tense", "clenched", "threat", "danger", "fear", "terror", "panic", "trembl"}},
	{ToneSad, []string{"grief", "tears", "wept", "mourn", "sorrow", "loss", "ache", "lonely"}},
	{ToneHappy, []string{"laugh", "smile", "joy", "delight", "grin", "warmth", "celebrat"}},
	{ToneSuspense, []string{"suspense", "mystery", "waited", "watching", "silence", "shadow", "listen"}},
}

// tensionKeywords drive the 1-10 tension level: one point per distinct hit.
var tensionKeywords = []string{
	"danger", "fear", "fight", "blood", "scream", "chase", "knife", "gun",
	"dead", "threat", "panic", "terror", "argument", "shout", "slammed",
	"ran", "grabbed", "struck", "crash", "explod",
}

// Compressor turns full scenes into bounded representations and builds the
// hierarchical manuscript skeleton the coarse passes consume.
type Compressor struct {
	analyzer    ai.Analyzer
	limits      config.Limits
	aiSummaries bool
	model       string
	logger      *slog.Logger
}

func NewCompressor(analyzer ai.Analyzer, limits config.Limits, aiSummaries bool, model string) *Compressor {
	return &Compressor{
		analyzer:    analyzer,
		limits:      limits,
		aiSummaries: aiSummaries && analyzer != nil,
		model:       model,
		logger:      slog.Default().With("component", "compressor"),
	}
}

// CompressScene builds one compressed scene. AI summarization failures are
// silently replaced by heuristic truncation; this function cannot fail.
func (c *Compressor) CompressScene(ctx context.Context, scene manuscript.Scene, position int) CompressedScene {
	cs := c.fallbackCompression(scene, position)

	if c.aiSummaries {
		if summary := c.aiSummary(ctx, scene); summary != "" {
			cs.Summary = summary
		}
	}

	return cs
}

// fallbackCompression is the pure-heuristic compression: deterministic for
// identical inputs, used both directly and as the per-scene failure path.
func (c *Compressor) fallbackCompression(scene manuscript.Scene, position int) CompressedScene {
	return CompressedScene{
		ID:             scene.ID,
		Position:       position,
		OpeningExcerpt: manuscript.FirstWords(scene.Text, c.limits.ExcerptWords),
		ClosingExcerpt: manuscript.LastWords(scene.Text, c.limits.ExcerptWords),
		Summary:        manuscript.TruncateWords(scene.Text, c.limits.SummaryWords),
		Metadata: SceneMetadata{
			WordCount:     scene.WordCount,
			Characters:    append([]string(nil), scene.Characters...),
			Locations:     append([]string(nil), scene.Locations...),
			EmotionalTone: detectTone(scene.Text),
			TensionLevel:  detectTension(scene.Text),
		},
	}
}

func (c *Compressor) aiSummary(ctx context.Context, scene manuscript.Scene) string {
	resp, err := c.analyzer.Analyze(ctx, ai.Request{
		Scene:         manuscript.TruncateWords(scene.Text, c.limits.ExcerptWords*4),
		AnalysisType:  "scene_summary",
		ReaderContext: fmt.Sprintf("Summarize this scene in at most %d words. Return JSON: {\"summary\": \"...\"}.", c.limits.SummaryWords),
		Options:       ai.Options{Model: c.model, ForceJSON: true},
	})
	if err != nil {
		c.logger.Warn("scene summary failed, using heuristic truncation",
			"scene_id", scene.ID, "error", err)
		return ""
	}

	summary := newDecoder(resp.Data).String("", "summary")
	return manuscript.TruncateWords(summary, c.limits.SummaryWords)
}

// PrepareScenes compresses every scene in submission order, batching the
// work so at most CompressorBatchSize scenes are in flight. A per-scene
// failure never aborts the batch: the scene gets the heuristic fallback.
// When AI summarization is on, an inter-batch courtesy delay applies.
func (c *Compressor) PrepareScenes(ctx context.Context, scenes []manuscript.Scene) []CompressedScene {
	compressed := make([]CompressedScene, len(scenes))

	batchSize := c.limits.CompressorBatchSize
	for start := 0; start < len(scenes); start += batchSize {
		end := start + batchSize
		if end > len(scenes) {
			end = len(scenes)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				// Workers never return errors, so one scene cannot cancel
				// its batch siblings.
				compressed[i] = c.CompressScene(gctx, scenes[i], i)
				return nil
			})
		}
		_ = g.Wait()

		c.logger.Debug("compression batch done",
			"batch_end", end, "total", len(scenes))

		if c.aiSummaries && end < len(scenes) && c.limits.InterBatchDelay > 0 {
			select {
			case <-time.After(c.limits.InterBatchDelay):
			case <-ctx.Done():
				// Remaining scenes still get deterministic fallbacks.
				for i := end; i < len(scenes); i++ {
					compressed[i] = c.fallbackCompression(scenes[i], i)
				}
				return compressed
			}
		}
	}

	return compressed
}

// Skeleton groups compressed scenes into fixed-size chapters, chapters into
// three acts at the 30%/80% boundaries, and concatenates act summaries into
// an overview. Every stage is truncated to its word budget.
func (c *Compressor) Skeleton(compressed []CompressedScene) ManuscriptSkeleton {
	var skeleton ManuscriptSkeleton

	perChapter := c.limits.ScenesPerChapter
	for start := 0; start < len(compressed); start += perChapter {
		end := start + perChapter
		if end > len(compressed) {
			end = len(compressed)
		}
		group := compressed[start:end]

		var summaries []string
		charSet := map[string]bool{}
		var chars []string
		for i, cs := range group {
			if i < 3 {
				summaries = append(summaries, cs.Summary)
			}
			for _, ch := range cs.Metadata.Characters {
				if !charSet[ch] {
					charSet[ch] = true
					chars = append(chars, ch)
				}
			}
		}

		summary := strings.Join(summaries, " ")
		if len(chars) > 0 {
			summary = summary + " Characters: " + strings.Join(chars, ", ") + "."
		}

		chapter := ChapterSkeleton{
			Number:     len(skeleton.Chapters) + 1,
			Summary:    manuscript.TruncateWords(summary, c.limits.ChapterSummaryWords),
			Characters: chars,
		}
		for _, cs := range group {
			chapter.SceneIDs = append(chapter.SceneIDs, cs.ID)
		}
		skeleton.Chapters = append(skeleton.Chapters, chapter)
	}

	skeleton.Acts = splitActs(skeleton.Chapters, c.limits.OverviewWords)

	var actSummaries []string
	for _, act := range skeleton.Acts {
		actSummaries = append(actSummaries, act.Summary)
	}
	skeleton.Overview = manuscript.TruncateWords(strings.Join(actSummaries, " "), c.limits.OverviewWords)

	return skeleton
}

// splitActs divides chapters into three acts at the 30% and 80% boundaries.
func splitActs(chapters []ChapterSkeleton, wordBudget int) []ActSkeleton {
	n := len(chapters)
	if n == 0 {
		return nil
	}

	act1End := (n*30 + 99) / 100
	act2End := (n*80 + 99) / 100
	if act1End < 1 {
		act1End = 1
	}
	if act2End < act1End {
		act2End = act1End
	}

	bounds := [][2]int{{0, act1End}, {act1End, act2End}, {act2End, n}}
	acts := make([]ActSkeleton, 0, 3)
	for i, b := range bounds {
		act := ActSkeleton{Number: i + 1}
		var summaries []string
		for j := b[0]; j < b[1]; j++ {
			act.ChapterNumbers = append(act.ChapterNumbers, chapters[j].Number)
			summaries = append(summaries, chapters[j].Summary)
		}
		act.Summary = manuscript.TruncateWords(strings.Join(summaries, " "), wordBudget)
		acts = append(acts, act)
	}

	return acts
}

// detectTone returns the first keyword class matching the text, in fixed
// precedence order, defaulting to neutral.
func detectTone(text string) Tone {
	lower := strings.ToLower(text)
	for _, class := range tonePrecedence {
		for _, kw := range class.keywords {
			if strings.Contains(lower, kw) {
				return class.tone
			}
		}
	}
	return ToneNeutral
}

// detectTension counts distinct tension-keyword hits, clamped to [1,10].
func detectTension(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range tensionKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return clampInt(hits, 1, 10)
}
