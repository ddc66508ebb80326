package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/class-photo-sorter/internal/config"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/facebackend"
	"github.com/kozaktomas/class-photo-sorter/internal/logging"
	"github.com/kozaktomas/class-photo-sorter/internal/orchestrator"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Recognize students in classroom photos and organize them by name",
	Long: `organize scans INPUT_ROOT/class_photos for classroom photos,
recognizes students against INPUT_ROOT/student_photos reference images,
and copies each photo into OUTPUT_ROOT/<student name>/<date>/. Faces that
don't match any known student are clustered into labeled "unknown" groups.
A per-run text report is written to the output root.`,
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)
	organizeCmd.Flags().Bool("quiet", false, "Suppress the progress bar")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	quiet := mustGetBool(cmd, "quiet")

	runID := uuid.NewString()
	backend, err := facebackend.NewClient(cfg.BackendURL, domain.BackendDescriptor{
		Engine: cfg.BackendEngine,
		Model:  cfg.BackendModel,
	})
	if err != nil {
		return fmt.Errorf("failed to construct face backend client: %w", err)
	}

	log, closeLog, err := logging.New(cfg.LogRoot, logging.RunContext{
		RunID:         runID,
		BackendEngine: cfg.BackendEngine,
		BackendModel:  cfg.BackendModel,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize run log: %w", err)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if !quiet {
			fmt.Println("\nReceived interrupt signal, finishing in-flight work...")
		}
		cancel()
	}()

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.Default(-1, "recognizing photos")
		defer bar.Finish()
		go pulseProgress(ctx, bar)
	}

	o := orchestrator.New(cfg, log, backend)
	result := o.Run(ctx)

	if !quiet && result.ReportPath != "" {
		fmt.Printf("\nReport written to %s\n", result.ReportPath)
	}

	os.Exit(result.ExitCode)
	return nil
}

// pulseProgress advances the CLI-only progress indicator while recognition
// runs; the Orchestrator itself has no notion of a progress bar (spec's
// ambient-stack boundary: progress reporting lives at the CLI layer only).
func pulseProgress(ctx context.Context, bar *progressbar.ProgressBar) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}
