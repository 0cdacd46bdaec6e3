package coherence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/coherence/internal/ai"
)

func weakPair(a, b string, issueType TransitionIssueType, description string) ScenePairAnalysis {
	return ScenePairAnalysis{
		SceneAID:        a,
		SceneBID:        b,
		TransitionScore: 0.3,
		Issues: []TransitionIssue{{
			Type:        issueType,
			Severity:    SeverityShouldFix,
			Description: description,
		}},
	}
}

func TestExtractFindingsThresholds(t *testing.T) {
	pairs := []ScenePairAnalysis{
		weakPair("s0", "s1", TransitionJarringPaceChange, "Tension spikes between s0 and s1"),
		// Scores at or above 0.5 are not extracted even with issues.
		{
			SceneAID: "s1", SceneBID: "s2", TransitionScore: 0.6,
			Issues: []TransitionIssue{{Type: TransitionWeak, Description: "mild"}},
		},
	}
	chapters := []ChapterFlowAnalysis{
		{ChapterNumber: 2, SceneIDs: []string{"s3", "s4"}, PacingProfile: PacingProfile{SaggyMiddle: true}},
		{ChapterNumber: 3, SceneIDs: []string{"s5"}},
	}
	arc := ManuscriptAnalysis{
		CharacterArcs: map[string]CharacterArc{
			"Mira":  {Completeness: 0.4},
			"Tomas": {Completeness: 0.9},
		},
	}

	result := extractFindings(pairs, SequenceAnalysis{}, chapters, arc)

	require.Len(t, result.PacingIssues, 2)
	assert.Empty(t, result.FlowIssues)
	require.Len(t, result.CharacterArcIssues, 1)
	assert.Equal(t, "Mira", result.CharacterArcIssues[0].Character)
	assert.Equal(t, ArcIncomplete, result.CharacterArcIssues[0].Pattern)
	assert.False(t, result.Synthesized)
}

func TestExtractFindingsCarriesSequenceIssues(t *testing.T) {
	sequences := SequenceAnalysis{
		FlowIssues: []NarrativeFlowIssue{{Description: "cause before effect", Pattern: FlowBrokenCausality}},
		ThemeIssues: []ThematicDiscontinuity{
			{Description: "motif vanishes", Pattern: ThemeAbandoned},
		},
	}
	result := extractFindings(nil, sequences, nil, ManuscriptAnalysis{})
	assert.Len(t, result.FlowIssues, 1)
	assert.Len(t, result.ThemeIssues, 1)
}

func TestSynthesizeFindingsShortCircuit(t *testing.T) {
	mock := ai.NewMockClient()
	engine := NewSynthesisEngine(mock, testLimits(), "m")

	pairs := []ScenePairAnalysis{weakPair("s0", "s1", TransitionJarringPaceChange, "Tension spikes")}
	result, err := engine.SynthesizeFindings(context.Background(), pairs, SequenceAnalysis{}, nil, ManuscriptAnalysis{})
	require.NoError(t, err)

	assert.Zero(t, mock.CallCount("synthesis"))
	assert.False(t, result.Synthesized)
	assert.Len(t, result.PacingIssues, 1)
}

func TestSynthesizeFindingsEscalatesHighImpact(t *testing.T) {
	mock := ai.NewMockClient()
	mock.RespondWith("synthesis", &ai.Response{
		Data: map[string]any{
			"topPriorities": []any{
				map[string]any{"description": "Tension spikes between s0 and s1", "impact": "HIGH", "rationale": "opens the book"},
				map[string]any{"description": "motif vanishes", "impact": "low"},
			},
		},
		Metadata: ai.Metadata{ModelUsed: "claude-sonnet"},
	})

	pairs := []ScenePairAnalysis{weakPair("s0", "s1", TransitionJarringPaceChange, "Tension spikes between s0 and s1")}
	sequences := SequenceAnalysis{
		FlowIssues:  []NarrativeFlowIssue{{Severity: SeverityConsider, Description: "cause before effect"}},
		ThemeIssues: []ThematicDiscontinuity{{Severity: SeverityConsider, Description: "motif vanishes"}},
	}

	engine := NewSynthesisEngine(mock, testLimits(), "m")
	result, err := engine.SynthesizeFindings(context.Background(), pairs, sequences, nil, ManuscriptAnalysis{})
	require.NoError(t, err)

	assert.True(t, result.Synthesized)
	require.Len(t, result.TopPriorities, 2)
	assert.Equal(t, "high", result.TopPriorities[0].Impact)

	// The high-impact priority escalates its matching issue; the low-impact
	// one leaves its match alone.
	require.Len(t, result.PacingIssues, 1)
	assert.Equal(t, SeverityMustFix, result.PacingIssues[0].Severity)
	assert.Equal(t, SeverityConsider, result.ThemeIssues[0].Severity)
	assert.Equal(t, SeverityConsider, result.FlowIssues[0].Severity)
	assert.Equal(t, "claude-sonnet", engine.ModelUsed())
}

func TestSynthesizeFindingsFailureReturnsExtraction(t *testing.T) {
	mock := ai.NewMockClient()
	mock.FailAll(errors.New("transient outage"))

	pairs := []ScenePairAnalysis{
		weakPair("s0", "s1", TransitionJarringPaceChange, "one"),
		weakPair("s1", "s2", TransitionEmotionalWhiplash, "two"),
		weakPair("s2", "s3", TransitionWeak, "three"),
	}
	engine := NewSynthesisEngine(mock, testLimits(), "m")
	result, err := engine.SynthesizeFindings(context.Background(), pairs, SequenceAnalysis{}, nil, ManuscriptAnalysis{})
	require.NoError(t, err)

	assert.False(t, result.Synthesized)
	assert.Empty(t, result.TopPriorities)
	total := len(result.FlowIssues) + len(result.PacingIssues)
	assert.Equal(t, 3, total)
}

func TestSynthesizeFindingsFatalPropagates(t *testing.T) {
	mock := ai.NewMockClient()
	mock.FailAll(ai.ErrInvalidAPIKey)

	pairs := []ScenePairAnalysis{
		weakPair("s0", "s1", TransitionJarringPaceChange, "one"),
		weakPair("s1", "s2", TransitionEmotionalWhiplash, "two"),
		weakPair("s2", "s3", TransitionWeak, "three"),
	}
	engine := NewSynthesisEngine(mock, testLimits(), "m")
	_, err := engine.SynthesizeFindings(context.Background(), pairs, SequenceAnalysis{}, nil, ManuscriptAnalysis{})
	require.ErrorIs(t, err, ai.ErrInvalidAPIKey)
}
