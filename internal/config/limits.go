package config

import "time"

type Limits struct {
	TransitionBatchSize int             `yaml:"transition_batch_size" validate:"required,min=1,max=20"`
	SequenceBatchSize   int             `yaml:"sequence_batch_size" validate:"required,min=1,max=20"`
	CompressorBatchSize int             `yaml:"compressor_batch_size" validate:"required,min=1,max=20"`
	MaxRetries          int             `yaml:"max_retries" validate:"min=0,max=10"`
	ExcerptWords        int             `yaml:"excerpt_words" validate:"required,min=20,max=1000"`
	SummaryWords        int             `yaml:"summary_words" validate:"required,min=20,max=500"`
	ChapterSummaryWords int             `yaml:"chapter_summary_words" validate:"required,min=20,max=1000"`
	OverviewWords       int             `yaml:"overview_words" validate:"required,min=50,max=2000"`
	ScenesPerChapter    int             `yaml:"scenes_per_chapter" validate:"required,min=2,max=50"`
	InterBatchDelay     time.Duration   `yaml:"inter_batch_delay" validate:"min=0,max=1m"`
	RateLimit           RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		TransitionBatchSize: 5,
		SequenceBatchSize:   3,
		CompressorBatchSize: 5,
		MaxRetries:          3,
		ExcerptWords:        200,
		SummaryWords:        100,
		ChapterSummaryWords: 150,
		OverviewWords:       400,
		ScenesPerChapter:    10,
		InterBatchDelay:     500 * time.Millisecond,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
	}
}
