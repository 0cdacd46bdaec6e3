package coherence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
)

// minIssuesForSynthesis is the cost-control threshold: below it the AI
// synthesis call is skipped and the raw extraction returned as-is.
const minIssuesForSynthesis = 3

// SynthesisEngine is pass 5: it aggregates and prioritizes the findings of
// passes 1-4. It never fails; AI trouble falls back to the unsynthesized
// extraction.
type SynthesisEngine struct {
	analyzer  ai.Analyzer
	limits    config.Limits
	model     string
	logger    *slog.Logger
	modelUsed string
}

func NewSynthesisEngine(analyzer ai.Analyzer, limits config.Limits, model string) *SynthesisEngine {
	return &SynthesisEngine{
		analyzer: analyzer,
		limits:   limits,
		model:    model,
		logger:   slog.Default().With("component", "synthesis_engine", "pass", 5),
	}
}

func (s *SynthesisEngine) ModelUsed() string { return s.modelUsed }

// SynthesizeFindings extracts issues from the earlier passes with fixed
// thresholds, and (for three or more issues) asks the provider to rank
// them, escalating high-impact matches to must-fix.
func (s *SynthesisEngine) SynthesizeFindings(ctx context.Context, pairs []ScenePairAnalysis, sequences SequenceAnalysis, chapters []ChapterFlowAnalysis, arc ManuscriptAnalysis) (SynthesisResult, error) {
	result := extractFindings(pairs, sequences, chapters, arc)

	total := len(result.FlowIssues) + len(result.PacingIssues) + len(result.ThemeIssues) + len(result.CharacterArcIssues)
	if total < minIssuesForSynthesis {
		s.logger.Debug("skipping synthesis call", "extracted_issues", total)
		return result, nil
	}

	resp, err := s.analyzer.Analyze(ctx, ai.Request{
		Scene:        describeFindings(result),
		AnalysisType: "synthesis",
		ReaderContext: "Rank these cross-pass coherence findings by rewrite impact. " +
			"Return JSON: {\"topPriorities\": [{\"description\", \"impact\": \"high|medium|low\", \"rationale\"}]}.",
		Options: ai.Options{Model: s.model, ForceJSON: true},
	})
	if err != nil {
		if ai.IsFatal(err) {
			return result, err
		}
		s.logger.Warn("synthesis call failed, returning raw extraction", "error", err)
		return result, nil
	}
	if resp.Metadata.ModelUsed != "" {
		s.modelUsed = resp.Metadata.ModelUsed
	}

	d := newDecoder(resp.Data)
	for _, obj := range d.Objects("topPriorities", "priorities") {
		result.TopPriorities = append(result.TopPriorities, Priority{
			Description: obj.String("", "description"),
			Impact:      strings.ToLower(obj.String("medium", "impact")),
			Rationale:   obj.String("", "rationale"),
		})
	}

	escalateByPriority(&result)
	result.Synthesized = true

	return result, nil
}

// extractFindings pulls issues out of passes 1-4 with fixed thresholds:
// weak transitions (score below 0.5) with specific sub-issues, saggy-middle
// chapters, and character arcs under 0.5 completeness. Sequence-level
// findings carry over directly.
func extractFindings(pairs []ScenePairAnalysis, sequences SequenceAnalysis, chapters []ChapterFlowAnalysis, arc ManuscriptAnalysis) SynthesisResult {
	result := SynthesisResult{
		FlowIssues:   append([]NarrativeFlowIssue(nil), sequences.FlowIssues...),
		PacingIssues: append([]PacingIssue(nil), sequences.PacingIssues...),
		ThemeIssues:  append([]ThematicDiscontinuity(nil), sequences.ThemeIssues...),
	}

	for _, pair := range pairs {
		if pair.TransitionScore >= 0.5 {
			continue
		}
		for _, issue := range pair.Issues {
			affected := []string{pair.SceneAID, pair.SceneBID}
			switch issue.Type {
			case TransitionJarringPaceChange:
				result.PacingIssues = append(result.PacingIssues, PacingIssue{
					Severity:       issue.Severity,
					Description:    issue.Description,
					AffectedScenes: affected,
					Pattern:        PacingInconsistent,
				})
			default:
				result.FlowIssues = append(result.FlowIssues, NarrativeFlowIssue{
					Severity:       issue.Severity,
					Description:    issue.Description,
					AffectedScenes: affected,
					Pattern:        FlowBrokenCausality,
				})
			}
		}
	}

	for _, chapter := range chapters {
		if chapter.PacingProfile.SaggyMiddle {
			result.PacingIssues = append(result.PacingIssues, PacingIssue{
				Severity:       SeverityShouldFix,
				Description:    fmt.Sprintf("Chapter %d sags in the middle", chapter.ChapterNumber),
				AffectedScenes: chapter.SceneIDs,
				Pattern:        PacingTooSlow,
			})
		}
	}

	for name, charArc := range arc.CharacterArcs {
		if charArc.Completeness < 0.5 {
			result.CharacterArcIssues = append(result.CharacterArcIssues, CharacterArcIssue{
				Severity:    SeverityShouldFix,
				Description: fmt.Sprintf("%s's arc is left incomplete", name),
				Character:   name,
				Pattern:     ArcIncomplete,
			})
		}
	}

	return result
}

// escalateByPriority bumps issues matching a high-impact priority to
// must-fix, via case-insensitive substring match on descriptions.
func escalateByPriority(result *SynthesisResult) {
	var highs []string
	for _, p := range result.TopPriorities {
		if p.Impact == "high" && p.Description != "" {
			highs = append(highs, strings.ToLower(p.Description))
		}
	}
	if len(highs) == 0 {
		return
	}

	matches := func(description string) bool {
		lower := strings.ToLower(description)
		for _, h := range highs {
			if strings.Contains(lower, h) || strings.Contains(h, lower) {
				return true
			}
		}
		return false
	}

	for i := range result.FlowIssues {
		if matches(result.FlowIssues[i].Description) {
			result.FlowIssues[i].Severity = SeverityMustFix
		}
	}
	for i := range result.PacingIssues {
		if matches(result.PacingIssues[i].Description) {
			result.PacingIssues[i].Severity = SeverityMustFix
		}
	}
	for i := range result.ThemeIssues {
		if matches(result.ThemeIssues[i].Description) {
			result.ThemeIssues[i].Severity = SeverityMustFix
		}
	}
	for i := range result.CharacterArcIssues {
		if matches(result.CharacterArcIssues[i].Description) {
			result.CharacterArcIssues[i].Severity = SeverityMustFix
		}
	}
}

func describeFindings(result SynthesisResult) string {
	payload := map[string]any{
		"flowIssues":         result.FlowIssues,
		"pacingIssues":       result.PacingIssues,
		"themeIssues":        result.ThemeIssues,
		"characterArcIssues": result.CharacterArcIssues,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
