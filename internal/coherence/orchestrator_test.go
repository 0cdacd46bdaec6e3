package coherence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/config"
	"github.com/dotcommander/coherence/internal/manuscript"
)

func testConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{
			Models: config.DepthModels{
				Quick:    "model-quick",
				Standard: "model-standard",
				Thorough: "model-thorough",
			},
			ArcModel: "model-arc",
		},
		Limits: testLimits(),
	}
}

func testManuscript(n int) *manuscript.Manuscript {
	m := &manuscript.Manuscript{Title: "Testing Grounds", Scenes: plainScenes(n)}
	m.Normalize()
	return m
}

func transitionsOnly() Settings {
	return Settings{EnableTransitions: true, Depth: "standard"}
}

func TestPipelineRejectsEmptyManuscript(t *testing.T) {
	p := NewPipeline(ai.NewMockClient(), testConfig())
	_, err := p.AnalyzeGlobalCoherence(context.Background(), &manuscript.Manuscript{}, DefaultSettings(), nil)
	require.ErrorIs(t, err, ErrNoScenes)
}

func TestPipelineRejectsUnknownDepth(t *testing.T) {
	p := NewPipeline(ai.NewMockClient(), testConfig())
	_, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(3), Settings{Depth: "extreme"}, nil)
	require.Error(t, err)
}

func TestPipelineTransitionsOnly(t *testing.T) {
	var snapshots []Progress
	onProgress := func(pr Progress) { snapshots = append(snapshots, pr) }

	p := NewPipeline(ai.NewMockClient(), testConfig())
	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), transitionsOnly(), onProgress)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.SceneLevel, 5)
	assert.Empty(t, result.ChapterLevel)
	assert.Equal(t, "mock", result.ModelsUsed[passTransitions])

	// With the arc pass off, the manuscript level is the deterministic
	// default.
	assert.InDelta(t, 0.7, result.ManuscriptLevel.StructuralIntegrity, 1e-9)

	require.NotEmpty(t, snapshots)
	for _, snap := range snapshots {
		assert.Equal(t, 1, snap.TotalPasses)
		assert.Equal(t, 1, snap.PassNumber)
		assert.Equal(t, 6, snap.TotalScenes)
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, passTransitions, last.CurrentPass)
	assert.Equal(t, 100.0, last.PassProgress)
}

func TestPipelineAllPassesDisabled(t *testing.T) {
	mock := ai.NewMockClient()
	p := NewPipeline(mock, testConfig())

	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(4), Settings{Depth: "quick"}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.SceneLevel)
	assert.Empty(t, result.ChapterLevel)
	assert.InDelta(t, 0.7, result.ManuscriptLevel.StructuralIntegrity, 1e-9)
	assert.Empty(t, mock.Calls())
}

func TestPipelineFullRun(t *testing.T) {
	p := NewPipeline(ai.NewMockClient(), testConfig())
	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), DefaultSettings(), nil)
	require.NoError(t, err)

	assert.Len(t, result.SceneLevel, 5)
	assert.Len(t, result.ChapterLevel, 1)
	assert.NotZero(t, result.Timestamp)
	assert.Equal(t, DefaultSettings(), result.Settings)

	// A clean default run extracts nothing, so the synthesis call is
	// skipped and no model recorded for it.
	assert.False(t, result.Synthesis.Synthesized)
	assert.Contains(t, result.ModelsUsed, passTransitions)
	assert.Contains(t, result.ModelsUsed, passSequences)
	assert.Contains(t, result.ModelsUsed, passChapters)
	assert.Contains(t, result.ModelsUsed, passArc)
	assert.NotContains(t, result.ModelsUsed, passSynthesis)
}

func TestPipelineFatalInFirstPassAborts(t *testing.T) {
	mock := ai.NewMockClient()
	mock.FailAll(ai.ErrMissingAPIKey)

	p := NewPipeline(mock, testConfig())
	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), DefaultSettings(), nil)
	require.ErrorIs(t, err, ai.ErrMissingAPIKey)
	require.NotNil(t, result)
	assert.Zero(t, mock.CallCount("sequence"))
}

func TestPipelineFatalInChapterPassKeepsEarlierResults(t *testing.T) {
	mock := ai.NewMockClient()
	mock.FailWith("chapter", ai.ErrInvalidAPIKey)

	p := NewPipeline(mock, testConfig())
	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), DefaultSettings(), nil)
	require.ErrorIs(t, err, ai.ErrInvalidAPIKey)
	require.NotNil(t, result)
	assert.Len(t, result.SceneLevel, 5)
	assert.Zero(t, mock.CallCount("arc"))
}

func TestPipelineCleanRunReportsNoErrors(t *testing.T) {
	mock := ai.NewMockClient()

	var last Progress
	onProgress := func(pr Progress) { last = pr }

	p := NewPipeline(mock, testConfig())
	_, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), DefaultSettings(), onProgress)
	require.NoError(t, err)
	assert.Empty(t, last.Errors)
}

func TestPipelineCancelAfterFirstPass(t *testing.T) {
	mock := ai.NewMockClient()
	p := NewPipeline(mock, testConfig())

	var snapshots []Progress
	onProgress := func(pr Progress) {
		snapshots = append(snapshots, pr)
		if pr.PassNumber == 1 && pr.PassProgress == 100 {
			p.Cancel()
		}
	}

	settings := DefaultSettings()
	result, err := p.AnalyzeGlobalCoherence(context.Background(), testManuscript(6), settings, onProgress)
	require.NoError(t, err)

	assert.Len(t, result.SceneLevel, 5)
	assert.Zero(t, mock.CallCount("sequence"))
	assert.Zero(t, mock.CallCount("chapter"))

	require.NotEmpty(t, snapshots)
	assert.True(t, snapshots[len(snapshots)-1].Cancelled)
}
