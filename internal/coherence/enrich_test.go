package coherence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichSceneIssuesTransitionEvidence(t *testing.T) {
	global := &GlobalCoherenceAnalysis{
		SceneLevel: []ScenePairAnalysis{{
			SceneAID: "s1",
			SceneBID: "s2",
			Issues:   []TransitionIssue{{Type: TransitionTimeDiscontinuity}},
		}},
	}
	issues := []SceneIssue{
		{SceneID: "s2", Severity: SeverityConsider, Description: "Opening feels abrupt."},
		{SceneID: "s5", Severity: SeverityConsider, Description: "Dialogue runs long."},
	}

	enriched := EnrichSceneIssues(issues, global)
	require.Len(t, enriched, 2)

	assert.Equal(t, SeverityShouldFix, enriched[0].Severity)
	assert.Contains(t, enriched[0].Description, "time_discontinuity")

	// Unrelated scene untouched.
	assert.Equal(t, issues[1], enriched[1])

	// Input slice is not mutated.
	assert.Equal(t, SeverityConsider, issues[0].Severity)
	assert.Equal(t, "Opening feels abrupt.", issues[0].Description)
}

func TestEnrichSceneIssuesStacksEvidenceCappedAtMustFix(t *testing.T) {
	global := &GlobalCoherenceAnalysis{
		SceneLevel: []ScenePairAnalysis{{
			SceneAID: "s1",
			SceneBID: "s2",
			Issues:   []TransitionIssue{{Type: TransitionJarringPaceChange}},
		}},
		SequenceLevel: SequenceAnalysis{
			FlowIssues: []NarrativeFlowIssue{{
				AffectedScenes: []string{"s1", "s2", "s3"},
				Pattern:        FlowPassiveSequence,
			}},
		},
	}

	issues := []SceneIssue{
		{SceneID: "s2", Severity: SeverityConsider, Description: "Stakes unclear."},
		{SceneID: "s3", Severity: SeverityMustFix, Description: "POV slips."},
	}

	enriched := EnrichSceneIssues(issues, global)

	// Two corroborating sources: consider -> should-fix -> must-fix.
	assert.Equal(t, SeverityMustFix, enriched[0].Severity)

	// Already at the cap; one more source cannot go past it.
	assert.Equal(t, SeverityMustFix, enriched[1].Severity)
	assert.Contains(t, enriched[1].Description, "passive_sequence")
}

func TestEnrichSceneIssuesIgnoresCleanTransitions(t *testing.T) {
	global := &GlobalCoherenceAnalysis{
		SceneLevel: []ScenePairAnalysis{{SceneAID: "s1", SceneBID: "s2"}},
	}
	issues := []SceneIssue{{SceneID: "s2", Severity: SeverityConsider, Description: "Minor nit."}}

	enriched := EnrichSceneIssues(issues, global)
	assert.Equal(t, issues[0], enriched[0])
}

func TestEnrichSceneIssuesNilGlobal(t *testing.T) {
	issues := []SceneIssue{{SceneID: "s1", Severity: SeverityConsider}}
	enriched := EnrichSceneIssues(issues, nil)
	assert.Equal(t, issues, enriched)
}
