// Package coherence implements the global coherence analysis pipeline: five
// increasingly coarse-grained passes over a compressed manuscript, producing
// actionable issues that downstream rewrite tooling targets.
package coherence

import (
	"time"
)

// Severity orders issues by how urgently a rewrite should address them.
type Severity string

const (
	SeverityConsider  Severity = "consider"
	SeverityShouldFix Severity = "should-fix"
	SeverityMustFix   Severity = "must-fix"
)

// Escalate moves a severity up one step, capped at must-fix.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityConsider:
		return SeverityShouldFix
	default:
		return SeverityMustFix
	}
}

// Tone is the dominant emotional register of a scene. The compressor only
// produces the first five; the rest appear in provider output and in the
// opposite-tone table used by the transition fallback.
type Tone string

const (
	ToneTense    Tone = "tense"
	ToneSad      Tone = "sad"
	ToneHappy    Tone = "happy"
	ToneSuspense Tone = "suspense"
	ToneNeutral  Tone = "neutral"
	ToneRelaxed  Tone = "relaxed"
	TonePeaceful Tone = "peaceful"
	ToneAngry    Tone = "angry"
	ToneCalm     Tone = "calm"
)

// SceneMetadata is derived once per run and drives every fallback heuristic.
type SceneMetadata struct {
	WordCount     int      `json:"wordCount"`
	Characters    []string `json:"characters"`
	Locations     []string `json:"locations"`
	EmotionalTone Tone     `json:"emotionalTone"`
	TensionLevel  int      `json:"tensionLevel"` // 1-10
}

// CompressedScene is the token-bounded representation every pass consumes.
// Ephemeral: regenerated each run, never persisted.
type CompressedScene struct {
	ID             string        `json:"id"`
	Position       int           `json:"position"`
	OpeningExcerpt string        `json:"openingExcerpt"`
	ClosingExcerpt string        `json:"closingExcerpt"`
	Summary        string        `json:"summary"`
	Metadata       SceneMetadata `json:"metadata"`
}

// TransitionIssueType is the closed enum pass 1 normalizes provider issue
// types onto.
type TransitionIssueType string

const (
	TransitionJarringPaceChange      TransitionIssueType = "jarring_pace_change"
	TransitionEmotionalWhiplash      TransitionIssueType = "emotional_whiplash"
	TransitionTimeDiscontinuity      TransitionIssueType = "time_discontinuity"
	TransitionLocationDiscontinuity  TransitionIssueType = "location_discontinuity"
	TransitionCharacterDiscontinuity TransitionIssueType = "character_discontinuity"
	TransitionWeak                   TransitionIssueType = "weak_transition"
)

type TransitionIssue struct {
	Type        TransitionIssueType `json:"type"`
	Severity    Severity            `json:"severity"`
	Description string              `json:"description"`
	Suggestion  string              `json:"suggestion,omitempty"`
}

type TransitionFlags struct {
	NeedsSceneBreak          bool `json:"needsSceneBreak"`
	NeedsTransitionScene     bool `json:"needsTransitionScene"`
	ChapterBoundaryCandidate bool `json:"chapterBoundaryCandidate"`
}

// ScenePairAnalysis scores the narrative boundary between two adjacent
// scenes. Immutable after pass 1 except for severity escalation during
// enrichment.
type ScenePairAnalysis struct {
	SceneAID        string            `json:"sceneAId"`
	SceneBID        string            `json:"sceneBId"`
	Position        int               `json:"position"`
	TransitionScore float64           `json:"transitionScore"` // [0,1]
	Issues          []TransitionIssue `json:"issues"`
	Strengths       []string          `json:"strengths"`
	Flags           TransitionFlags   `json:"flags"`
}

// Pattern enums for the typed issue variants of pass 2 and beyond.
type FlowPattern string

const (
	FlowBrokenCausality     FlowPattern = "broken_causality"
	FlowPassiveSequence     FlowPattern = "passive_sequence"
	FlowMissingSetup        FlowPattern = "missing_setup"
	FlowRepetitiveStructure FlowPattern = "repetitive_structure"
)

type PacingPattern string

const (
	PacingTooSlow      PacingPattern = "too_slow"
	PacingTooFast      PacingPattern = "too_fast"
	PacingInconsistent PacingPattern = "inconsistent"
)

type ThemePattern string

const (
	ThemeAbandoned     ThemePattern = "abandoned"
	ThemeContradictory ThemePattern = "contradictory"
	ThemeDiluted       ThemePattern = "diluted"
)

type ArcPattern string

const (
	ArcIncomplete   ArcPattern = "incomplete"
	ArcInconsistent ArcPattern = "inconsistent"
	ArcAbsent       ArcPattern = "absent"
)

type NarrativeFlowIssue struct {
	Severity       Severity    `json:"severity"`
	Description    string      `json:"description"`
	AffectedScenes []string    `json:"affectedScenes"`
	Pattern        FlowPattern `json:"pattern"`
}

type PacingIssue struct {
	Severity       Severity      `json:"severity"`
	Description    string        `json:"description"`
	AffectedScenes []string      `json:"affectedScenes"`
	Pattern        PacingPattern `json:"pattern"`
	TensionDelta   int           `json:"tensionDelta"`
}

type ThematicDiscontinuity struct {
	Severity       Severity     `json:"severity"`
	Description    string       `json:"description"`
	AffectedScenes []string     `json:"affectedScenes"`
	Pattern        ThemePattern `json:"pattern"`
}

type CharacterArcIssue struct {
	Severity       Severity   `json:"severity"`
	Description    string     `json:"description"`
	AffectedScenes []string   `json:"affectedScenes"`
	Character      string     `json:"character"`
	Pattern        ArcPattern `json:"pattern"`
}

// SequenceAnalysis aggregates pass 2's consolidated findings.
type SequenceAnalysis struct {
	FlowIssues   []NarrativeFlowIssue    `json:"flowIssues"`
	PacingIssues []PacingIssue           `json:"pacingIssues"`
	ThemeIssues  []ThematicDiscontinuity `json:"themeIssues"`
}

// ChapterHealth holds the four boolean health dimensions. NOTE ON POLARITY:
// providers report "problem present" flags; these fields store the negation
// ("dimension healthy"). The inversion is deliberate and load-bearing for
// downstream consumers; see chapters.go.
type ChapterHealth struct {
	Unity            bool `json:"unity"`
	Completeness     bool `json:"completeness"`
	BalancedPacing   bool `json:"balancedPacing"`
	NarrativePurpose bool `json:"narrativePurpose"`
}

type ChapterRecommendations struct {
	Split            bool     `json:"split"`
	MergeWithNext    bool     `json:"mergeWithNext"`
	OrphanedSceneIDs []string `json:"orphanedSceneIds"`
}

type PacingProfile struct {
	FrontLoaded  bool `json:"frontLoaded"`
	SaggyMiddle  bool `json:"saggyMiddle"`
	RushedEnding bool `json:"rushedEnding"`
}

type ChapterFlowAnalysis struct {
	ChapterNumber   int                    `json:"chapterNumber"`
	SceneIDs        []string               `json:"sceneIds"`
	CoherenceScore  float64                `json:"coherenceScore"` // [0,1]
	Health          ChapterHealth          `json:"health"`
	Recommendations ChapterRecommendations `json:"recommendations"`
	PacingProfile   PacingProfile          `json:"pacingProfile"`
}

type CharacterArc struct {
	Completeness float64  `json:"completeness"` // [0,1]
	Consistency  float64  `json:"consistency"`  // [0,1]
	Issues       []string `json:"issues"`
}

type PlotHole struct {
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	AffectedScenes []string `json:"affectedScenes"`
}

type ActBalance struct {
	Act1 float64 `json:"act1"`
	Act2 float64 `json:"act2"`
	Act3 float64 `json:"act3"`
}

type PacingSpot struct {
	SceneIDs    []string `json:"sceneIds"`
	Description string   `json:"description"`
}

type PacingCurve struct {
	SlowSpots      []PacingSpot `json:"slowSpots"`
	RushedSections []PacingSpot `json:"rushedSections"`
}

// ManuscriptAnalysis is pass 4's whole-manuscript verdict.
type ManuscriptAnalysis struct {
	StructuralIntegrity  float64                 `json:"structuralIntegrity"` // [0,1]
	ActBalance           ActBalance              `json:"actBalance"`
	CharacterArcs        map[string]CharacterArc `json:"characterArcs"`
	PlotHoles            []PlotHole              `json:"plotHoles"`
	PacingCurve          PacingCurve             `json:"pacingCurve"`
	ThematicCoherence    float64                 `json:"thematicCoherence"`    // [0,1]
	OpeningEffectiveness float64                 `json:"openingEffectiveness"` // [0,1]
	EndingEffectiveness  float64                 `json:"endingEffectiveness"`  // [0,1]
	Theme                string                  `json:"theme"`
}

// Priority is one entry of the synthesis call's ranked output.
type Priority struct {
	Description string `json:"description"`
	Impact      string `json:"impact"` // high | medium | low
	Rationale   string `json:"rationale,omitempty"`
}

// SynthesisResult aggregates passes 1-4 into a prioritized issue set.
// Synthesized is false when the AI call was short-circuited or failed and
// the result is the raw extraction.
type SynthesisResult struct {
	FlowIssues         []NarrativeFlowIssue    `json:"flowIssues"`
	PacingIssues       []PacingIssue           `json:"pacingIssues"`
	ThemeIssues        []ThematicDiscontinuity `json:"themeIssues"`
	CharacterArcIssues []CharacterArcIssue     `json:"characterArcIssues"`
	TopPriorities      []Priority              `json:"topPriorities"`
	Synthesized        bool                    `json:"synthesized"`
}

// Settings enables/disables passes for one run. Immutable per run.
type Settings struct {
	EnableTransitions bool   `json:"enableTransitions"`
	EnableSequences   bool   `json:"enableSequences"`
	EnableChapters    bool   `json:"enableChapters"`
	EnableArc         bool   `json:"enableArc"`
	EnableSynthesis   bool   `json:"enableSynthesis"`
	Depth             string `json:"depth" validate:"oneof=quick standard thorough"`
}

// DefaultSettings enables every pass at standard depth.
func DefaultSettings() Settings {
	return Settings{
		EnableTransitions: true,
		EnableSequences:   true,
		EnableChapters:    true,
		EnableArc:         true,
		EnableSynthesis:   true,
		Depth:             "standard",
	}
}

// Progress is an immutable snapshot of pipeline state, re-emitted through
// the progress callback on every state transition.
type Progress struct {
	CurrentPass            string        `json:"currentPass"`
	PassNumber             int           `json:"passNumber"`
	TotalPasses            int           `json:"totalPasses"`
	PassProgress           float64       `json:"passProgress"` // [0,100]
	ScenesAnalyzed         int           `json:"scenesAnalyzed"`
	TotalScenes            int           `json:"totalScenes"`
	CurrentScene           string        `json:"currentScene,omitempty"`
	EstimatedTimeRemaining time.Duration `json:"estimatedTimeRemaining"`
	Errors                 []string      `json:"errors"`
	Cancelled              bool          `json:"cancelled"`
}

// ProgressFunc receives progress snapshots. May be nil.
type ProgressFunc func(Progress)

// GlobalCoherenceAnalysis is the final aggregate of an entire run.
type GlobalCoherenceAnalysis struct {
	RunID             string                `json:"runId"`
	SceneLevel        []ScenePairAnalysis   `json:"sceneLevel"`
	SequenceLevel     SequenceAnalysis      `json:"sequenceLevel"`
	ChapterLevel      []ChapterFlowAnalysis `json:"chapterLevel"`
	ManuscriptLevel   ManuscriptAnalysis    `json:"manuscriptLevel"`
	Synthesis         SynthesisResult       `json:"synthesis"`
	Timestamp         time.Time             `json:"timestamp"`
	TotalAnalysisTime time.Duration         `json:"totalAnalysisTime"`
	ModelsUsed        map[string]string     `json:"modelsUsed"`
	Settings          Settings              `json:"settings"`
}

// SceneIssue is a scene-local issue from outside this pipeline that
// EnrichSceneIssues cross-references against global findings.
type SceneIssue struct {
	SceneID     string   `json:"sceneId"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// ManuscriptSkeleton is the hierarchical summary the coarse passes consume.
type ManuscriptSkeleton struct {
	Chapters []ChapterSkeleton `json:"chapters"`
	Acts     []ActSkeleton     `json:"acts"`
	Overview string            `json:"overview"`
}

type ChapterSkeleton struct {
	Number     int      `json:"number"`
	SceneIDs   []string `json:"sceneIds"`
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
}

type ActSkeleton struct {
	Number         int    `json:"number"`
	ChapterNumbers []int  `json:"chapterNumbers"`
	Summary        string `json:"summary"`
}
