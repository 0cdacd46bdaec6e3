// Package main is the entry point for the coherence CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/coherence/internal/ai"
	"github.com/dotcommander/coherence/internal/coherence"
	"github.com/dotcommander/coherence/internal/config"
	"github.com/dotcommander/coherence/internal/manuscript"
	"github.com/dotcommander/coherence/internal/storage"
)

var (
	version = "dev"

	verbose bool
	quiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coherence",
		Short: "Global coherence analysis for long-form manuscripts",
		Long: `Coherence runs a five-pass analysis over a scene-based manuscript:
scene transitions, sequence flow, chapter coherence, manuscript arc and a
cross-pass synthesis. Results are written as JSON under runs/.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newAnalyzeCommand() *cobra.Command {
	var (
		depth          string
		outputDir      string
		noCache        bool
		cacheTTL       time.Duration
		skipTransition bool
		skipSequences  bool
		skipChapters   bool
		skipArc        bool
		skipSynthesis  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <manuscript.json>",
		Short: "Run the full coherence analysis over a manuscript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			m, err := manuscript.Load(args[0])
			if err != nil {
				return err
			}

			client, err := ai.NewClient(cfg.AI.APIKey,
				ai.WithAPIConfig(cfg.AI.BaseURL, cfg.Analysis.Models.Standard),
				ai.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
				ai.WithRetry(cfg.Limits.MaxRetries),
				ai.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
			)
			if err != nil {
				return err
			}

			var analyzer ai.Analyzer = client
			if !noCache {
				analyzer = ai.NewResponseCache(client, storage.NewFileSystem(cfg.CacheDir), cacheTTL)
			}

			settings := coherence.Settings{
				EnableTransitions: !skipTransition,
				EnableSequences:   !skipSequences,
				EnableChapters:    !skipChapters,
				EnableArc:         !skipArc,
				EnableSynthesis:   !skipSynthesis,
				Depth:             depth,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline := coherence.NewPipeline(analyzer, cfg)
			result, err := pipeline.AnalyzeGlobalCoherence(ctx, m, settings, progressPrinter())
			if !quiet {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}

			outPath, saveErr := saveResult(cmd.Context(), outputDir, m.Title, result)
			if saveErr != nil {
				return saveErr
			}

			printSummary(result, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&depth, "depth", "standard", "analysis depth: quick, standard or thorough")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory the runs/ tree is created under")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 24*time.Hour, "response cache time to live")
	cmd.Flags().BoolVar(&skipTransition, "skip-transitions", false, "skip the scene-transition pass")
	cmd.Flags().BoolVar(&skipSequences, "skip-sequences", false, "skip the sequence-flow pass")
	cmd.Flags().BoolVar(&skipChapters, "skip-chapters", false, "skip the chapter-coherence pass")
	cmd.Flags().BoolVar(&skipArc, "skip-arc", false, "skip the manuscript-arc pass")
	cmd.Flags().BoolVar(&skipSynthesis, "skip-synthesis", false, "skip the synthesis pass")

	return cmd
}

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the AI response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached AI response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cache := ai.NewResponseCache(nil, storage.NewFileSystem(cfg.CacheDir), 0)
			if err := cache.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("coherence %s\n", version)
		},
	}
}

func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// progressPrinter renders progress snapshots as a single updating line.
func progressPrinter() coherence.ProgressFunc {
	if quiet {
		return nil
	}
	return func(pr coherence.Progress) {
		eta := ""
		if pr.EstimatedTimeRemaining > 0 {
			eta = fmt.Sprintf(" ETA %s", pr.EstimatedTimeRemaining.Round(time.Second))
		}
		status := ""
		if pr.Cancelled {
			status = " (cancelled)"
		}
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %-18s %3.0f%% scenes %d/%d%s%s   ",
			pr.PassNumber, pr.TotalPasses, pr.CurrentPass, pr.PassProgress,
			pr.ScenesAnalyzed, pr.TotalScenes, eta, status)
	}
}

func saveResult(ctx context.Context, outputDir, title string, result *coherence.GlobalCoherenceAnalysis) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling analysis: %w", err)
	}

	relPath := filepath.Join(storage.RunPath(result.RunID, title), "analysis.json")
	store := storage.NewFileSystem(outputDir)
	if err := store.Save(ctx, relPath, data); err != nil {
		return "", err
	}
	return filepath.Join(outputDir, relPath), nil
}

func printSummary(result *coherence.GlobalCoherenceAnalysis, outPath string) {
	mustFix := 0
	for _, pair := range result.SceneLevel {
		for _, issue := range pair.Issues {
			if issue.Severity == coherence.SeverityMustFix {
				mustFix++
			}
		}
	}

	fmt.Printf("Run %s finished in %s\n", result.RunID, result.TotalAnalysisTime.Round(time.Millisecond))
	fmt.Printf("  scene pairs analyzed: %d (%d must-fix transition issues)\n", len(result.SceneLevel), mustFix)
	fmt.Printf("  sequence issues:      %d flow, %d pacing, %d theme\n",
		len(result.SequenceLevel.FlowIssues), len(result.SequenceLevel.PacingIssues), len(result.SequenceLevel.ThemeIssues))
	fmt.Printf("  chapters analyzed:    %d\n", len(result.ChapterLevel))
	fmt.Printf("  top priorities:       %d\n", len(result.Synthesis.TopPriorities))
	fmt.Printf("  output:               %s\n", outPath)
}
