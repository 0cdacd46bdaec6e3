package ai

import "context"

// Analyzer is the single abstract capability the coherence pipeline depends
// on: analyze one scene in context and return structured findings. Concrete
// providers, retries and transport live behind this interface.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// Request carries one unit of analysis work.
type Request struct {
	Scene          string
	PreviousScenes []string
	AnalysisType   string
	ReaderContext  string
	Options        Options
}

// Options tune a single call without changing its meaning.
type Options struct {
	Model     string
	ForceJSON bool
}

// ProviderIssue is an issue as the provider reports it. Types and severities
// are free-form here; each pass normalizes them onto its closed enums.
type ProviderIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// Response is the provider's parsed reply. Data holds the full decoded JSON
// payload so each pass can pull its own fields through the shared decoder.
type Response struct {
	Issues   []ProviderIssue
	Data     map[string]any
	Metadata Metadata
}

type Metadata struct {
	ModelUsed string
}
