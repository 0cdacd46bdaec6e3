package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
)

// ArcValidator is pass 4: one whole-manuscript call validating three-act
// structure and character arcs. Deliberately routed to a higher-capability
// model; a single full-context call is worth the spend.
type ArcValidator struct {
	analyzer  ai.Analyzer
	limits    config.Limits
	model     string // the arc model, not the depth-routed one
	logger    *slog.Logger
	modelUsed string
}

func NewArcValidator(analyzer ai.Analyzer, limits config.Limits, arcModel string) *ArcValidator {
	return &ArcValidator{
		analyzer: analyzer,
		limits:   limits,
		model:    arcModel,
		logger:   slog.Default().With("component", "arc_validator", "pass", 4),
	}
}

func (v *ArcValidator) ModelUsed() string { return v.modelUsed }

// ValidateArc never fails: any error short of a fatal credential error is
// replaced by the deterministic fallback computed from scene counts alone.
func (v *ArcValidator) ValidateArc(ctx context.Context, compressed []CompressedScene, skeleton ManuscriptSkeleton) (ManuscriptAnalysis, error) {
	topCharacters := topCharacters(compressed, 5)
	act1, act2, act3 := actSplit(len(compressed))
	theme := inferTheme(compressed)

	resp, err := v.analyzer.Analyze(ctx, ai.Request{
		Scene:        skeleton.Overview,
		AnalysisType: "arc",
		ReaderContext: fmt.Sprintf(
			"Validate the manuscript's three-act structure and character arcs. "+
				"Main characters: %s. Apparent theme: %s. Act split by scene count: %d/%d/%d. "+
				"Return JSON: {\"structuralIntegrity\": 0..1, \"actBalance\": {\"act1\",\"act2\",\"act3\"}, "+
				"\"characterArcs\": {name: {\"completeness\", \"consistency\", \"issues\": [..]}}, "+
				"\"plotHoles\": [{\"description\", \"severity\", \"affectedScenes\"}], "+
				"\"pacingCurve\": {\"slowSpots\": [..], \"rushedSections\": [..]}, "+
				"\"thematicCoherence\": 0..1, \"openingEffectiveness\": 0..1, \"endingEffectiveness\": 0..1}.",
			strings.Join(topCharacters, ", "), theme, act1, act2, act3),
		Options: ai.Options{Model: v.model, ForceJSON: true},
	})
	if err != nil {
		if ai.IsFatal(err) {
			return fallbackArc(compressed, topCharacters, theme), err
		}
		v.logger.Warn("arc validation failed, using deterministic fallback", "error", err)
		return fallbackArc(compressed, topCharacters, theme), nil
	}
	if resp.Metadata.ModelUsed != "" {
		v.modelUsed = resp.Metadata.ModelUsed
	}

	return v.parseArc(resp, compressed, topCharacters, theme), nil
}

// parseArc tolerates several nested shapes; every numeric lands in [0,1]
// with a 0.6 default.
func (v *ArcValidator) parseArc(resp *ai.Response, compressed []CompressedScene, topCharacters []string, theme string) ManuscriptAnalysis {
	d := newDecoder(resp.Data)

	// Providers sometimes nest the payload under an "analysis" or
	// "manuscript" wrapper; unwrap before field reads.
	if d.Has("analysis.structuralIntegrity") {
		d = d.Section("analysis")
	} else if d.Has("manuscript.structuralIntegrity") {
		d = d.Section("manuscript")
	}

	analysis := ManuscriptAnalysis{
		StructuralIntegrity: d.Float(0.6, 0, 1, "structuralIntegrity"),
		ActBalance: ActBalance{
			Act1: d.Float(0.6, 0, 1, "actBalance.act1", "actBalance.act_1"),
			Act2: d.Float(0.6, 0, 1, "actBalance.act2", "actBalance.act_2"),
			Act3: d.Float(0.6, 0, 1, "actBalance.act3", "actBalance.act_3"),
		},
		CharacterArcs:        map[string]CharacterArc{},
		ThematicCoherence:    d.Float(0.6, 0, 1, "thematicCoherence"),
		OpeningEffectiveness: d.Float(0.6, 0, 1, "openingEffectiveness", "opening.effectiveness"),
		EndingEffectiveness:  d.Float(0.6, 0, 1, "endingEffectiveness", "ending.effectiveness"),
		Theme:                d.String(theme, "theme"),
	}

	arcs := d.Section("characterArcs", "arcs")
	for _, name := range topCharacters {
		arc := arcs.Section(name)
		analysis.CharacterArcs[name] = CharacterArc{
			Completeness: arc.Float(0.6, 0, 1, "completeness"),
			Consistency:  arc.Float(0.6, 0, 1, "consistency"),
			Issues:       arc.StringSlice("issues"),
		}
	}

	for _, obj := range d.Objects("plotHoles", "plot_holes") {
		analysis.PlotHoles = append(analysis.PlotHoles, PlotHole{
			Description:    obj.String("", "description"),
			Severity:       normalizeSeverity(obj.String("", "severity")),
			AffectedScenes: obj.StringSlice("affectedScenes", "scenes"),
		})
	}

	curve := d.Section("pacingCurve")
	for _, obj := range curve.Objects("slowSpots") {
		analysis.PacingCurve.SlowSpots = append(analysis.PacingCurve.SlowSpots, PacingSpot{
			SceneIDs:    obj.StringSlice("sceneIds", "scenes", "affectedScenes"),
			Description: obj.String("", "description"),
		})
	}
	for _, obj := range curve.Objects("rushedSections") {
		analysis.PacingCurve.RushedSections = append(analysis.PacingCurve.RushedSections, PacingSpot{
			SceneIDs:    obj.StringSlice("sceneIds", "scenes", "affectedScenes"),
			Description: obj.String("", "description"),
		})
	}

	return analysis
}

// fallbackArc is computed purely from scene counts: the default every field
// takes when the provider is unavailable, including the disabled-pass case.
func fallbackArc(compressed []CompressedScene, topCharacters []string, theme string) ManuscriptAnalysis {
	analysis := ManuscriptAnalysis{
		StructuralIntegrity:  0.7,
		ActBalance:           ActBalance{Act1: 0.7, Act2: 0.7, Act3: 0.7},
		CharacterArcs:        map[string]CharacterArc{},
		ThematicCoherence:    0.7,
		OpeningEffectiveness: 0.7,
		EndingEffectiveness:  0.7,
		Theme:                theme,
	}
	for _, name := range topCharacters {
		analysis.CharacterArcs[name] = CharacterArc{Completeness: 0.7, Consistency: 0.7}
	}
	return analysis
}

// DefaultManuscriptAnalysis is the deterministic result when pass 4 never
// runs. Structural integrity derives from the default 0.7 inputs.
func DefaultManuscriptAnalysis(compressed []CompressedScene) ManuscriptAnalysis {
	return fallbackArc(compressed, topCharacters(compressed, 5), inferTheme(compressed))
}

// topCharacters ranks characters by scene-appearance count, ties broken by
// name for determinism, keeping the top n.
func topCharacters(compressed []CompressedScene, n int) []string {
	counts := map[string]int{}
	for _, cs := range compressed {
		for _, name := range cs.Metadata.Characters {
			counts[name]++
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	if len(names) > n {
		names = names[:n]
	}
	return names
}

// actSplit divides a scene count 25/50/25.
func actSplit(total int) (act1, act2, act3 int) {
	act1 = total / 4
	act3 = total / 4
	act2 = total - act1 - act3
	return act1, act2, act3
}

// inferTheme labels the manuscript by average tension: high tension reads
// as conflict, low as character study, the middle as a journey.
func inferTheme(compressed []CompressedScene) string {
	if len(compressed) == 0 {
		return "journey and transformation"
	}
	sum := 0
	for _, cs := range compressed {
		sum += cs.Metadata.TensionLevel
	}
	avg := float64(sum) / float64(len(compressed))

	switch {
	case avg > 7:
		return "conflict and resolution"
	case avg < 3:
		return "character development"
	default:
		return "journey and transformation"
	}
}
