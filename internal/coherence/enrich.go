package coherence

import "strings"

// EnrichSceneIssues cross-references scene-local issues against the global
// analysis. An issue whose scene sits on a troubled transition or inside a
// narrative flow issue gets an explanatory note and one severity step per
// corroborating source, capped at must-fix. The input slice is not
// mutated.
func EnrichSceneIssues(issues []SceneIssue, global *GlobalCoherenceAnalysis) []SceneIssue {
	enriched := append([]SceneIssue(nil), issues...)
	if global == nil {
		return enriched
	}

	for i := range enriched {
		var notes []string

		if pairNote := transitionEvidence(enriched[i].SceneID, global.SceneLevel); pairNote != "" {
			notes = append(notes, pairNote)
		}
		if flowNote := flowEvidence(enriched[i].SceneID, global.SequenceLevel.FlowIssues); flowNote != "" {
			notes = append(notes, flowNote)
		}

		for _, note := range notes {
			enriched[i].Severity = enriched[i].Severity.Escalate()
			enriched[i].Description += " " + note
		}
	}

	return enriched
}

func transitionEvidence(sceneID string, pairs []ScenePairAnalysis) string {
	for _, pair := range pairs {
		if pair.SceneAID != sceneID && pair.SceneBID != sceneID {
			continue
		}
		if len(pair.Issues) == 0 {
			continue
		}
		types := make([]string, 0, len(pair.Issues))
		for _, issue := range pair.Issues {
			types = append(types, string(issue.Type))
		}
		return "(Global analysis found a troubled transition here: " + strings.Join(types, ", ") + ".)"
	}
	return ""
}

func flowEvidence(sceneID string, flowIssues []NarrativeFlowIssue) string {
	for _, issue := range flowIssues {
		for _, affected := range issue.AffectedScenes {
			if affected == sceneID {
				return "(This scene is part of a wider narrative flow problem: " + string(issue.Pattern) + ".)"
			}
		}
	}
	return ""
}
