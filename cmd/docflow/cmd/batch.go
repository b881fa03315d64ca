package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/spf13/cobra"
)

// batchCmd recognizes local files without the rest of the pipeline.
var batchCmd = &cobra.Command{
	Use:   "batch [files...]",
	Short: "Recognize local documents and export the OCR results",
	Long: `Recognize local PDF and image files one after another and export the
results. Files that fail are reported in the export and do not stop the
batch.

Supported formats: PDF, PNG, JPEG, GIF, BMP, TIFF

Examples:
  docflow batch scan1.png scan2.png
  docflow batch scans/ --recursive --format csv --output results.csv
  docflow batch archive/ --include "*.pdf" --language eng+deu`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolP("recursive", "r", false, "process directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "include patterns (default: all supported document types)")
	batchCmd.Flags().StringSlice("exclude", nil, "exclude patterns")
	batchCmd.Flags().StringP("format", "f", "", "export format (json, text, csv)")
	batchCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	batchCmd.Flags().StringP("language", "l", "", "recognition language(s), e.g. eng+deu")
	batchCmd.Flags().Int("page-timeout", 0, "per-page recognition timeout in seconds (0 = none)")
	batchCmd.Flags().Bool("no-progress", false, "disable the progress bar")
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := slog.Default()

	if cmd.Flags().Changed("language") {
		cfg.OCR.Language, _ = cmd.Flags().GetString("language")
	}
	if cmd.Flags().Changed("page-timeout") {
		cfg.OCR.PageTimeoutSec, _ = cmd.Flags().GetInt("page-timeout")
	}
	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}

	opts := batch.DiscoverOptions{}
	opts.Recursive, _ = cmd.Flags().GetBool("recursive")
	opts.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	opts.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	paths, err := batch.Discover(appFs, args, opts)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported documents found")
	}

	factory, ok := engineFactories[cfg.OCR.Engine]
	if !ok {
		return fmt.Errorf("unknown ocr engine %q (available: %v)", cfg.OCR.Engine, engineNames())
	}
	session := ocr.NewManager(factory, render.NewRenderer(logger), cfg.ToOCRConfig(), logger)
	defer func() { _ = session.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize ocr engine: %w", err)
	}

	coord := batch.NewCoordinator(session, logger)
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if !noProgress {
		progress := pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Recognizing")
		progress.OnStart(len(paths))
		done := 0
		coord.OnJobUpdate(func(job batch.Job) {
			switch job.Status {
			case batch.StatusCompleted, batch.StatusFailed, batch.StatusCancelled:
				done++
				progress.OnProgress(done, len(paths))
			}
		})
		defer progress.OnComplete()
	}

	logger.Info("batch processing", "files", len(paths))
	if err := coord.ProcessAll(ctx, batch.FilesFromPaths(appFs, paths)); err != nil {
		return err
	}

	data, err := coord.Export(format)
	if err != nil {
		return err
	}
	if outputFile == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := writeFile(outputFile, data); err != nil {
		return err
	}
	m := coord.Metrics()
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Processed %d files (%d failed), results written to %s\n",
		m.Processed(), m.Failed, outputFile)
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := appFs.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output file: %w", err)
	}
	return f.Close()
}
