package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/spf13/cobra"
)

// processCmd runs library documents through the full pipeline.
var processCmd = &cobra.Command{
	Use:   "process <library/path>...",
	Short: "Run documents through the convert, recognize and postprocess pipeline",
	Long: `Run one or more library documents through the pipeline and print the
resulting text. Each argument names a file as <library>/<path below the
library>, where libraries are the subdirectories of --root.

Documents with an embedded text layer skip recognition; image-only
documents are recognized by the OCR engine.

Examples:
  docflow process invoices/2024/march.pdf
  docflow process --root /srv/docs contracts/signed.pdf --format json
  docflow process --preset ocr-only.yaml scans/page1.png`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().String("preset", "", "pipeline preset file (YAML)")
	processCmd.Flags().String("save-preset", "", "write the pipeline layout used to this file")
	processCmd.Flags().StringP("format", "f", "", "output format (text, json, csv)")
	processCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	processCmd.Flags().Bool("force-recognize", false, "recognize every page even when embedded text exists")
	processCmd.Flags().Bool("no-progress", false, "disable the progress bar")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := slog.Default()

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	presetFile, _ := cmd.Flags().GetString("preset")
	savePreset, _ := cmd.Flags().GetString("save-preset")
	force, _ := cmd.Flags().GetBool("force-recognize")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	var progress pipeline.ProgressCallback = pipeline.NewLogProgressCallback(logger, slog.LevelDebug, "stage")
	if !noProgress {
		progress = pipeline.NewMultiProgressCallback(progress,
			pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Processing"))
	}

	eng, err := newEngine(cfg, progress, logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	preset, err := loadPreset(cfg, presetFile)
	if err != nil {
		return fmt.Errorf("load preset: %w", err)
	}
	if err := eng.state.ApplyPreset(preset); err != nil {
		return fmt.Errorf("apply preset: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items, err := statItems(ctx, eng.explorer, args)
	if err != nil {
		return err
	}
	if err := eng.state.OnSourceOutputChanged(items); err != nil {
		return err
	}

	if err := eng.session.Initialize(ctx); err != nil {
		// Documents with embedded text still convert without an engine.
		logger.Warn("OCR engine unavailable, image-only documents will fail", "error", err)
	}

	if force {
		if err := runForced(ctx, eng); err != nil {
			return err
		}
	} else if err := eng.runner.RunAll(ctx); err != nil {
		return err
	}

	if savePreset != "" {
		if err := pipeline.SavePreset(appFs, savePreset, eng.state.Preset("saved")); err != nil {
			return fmt.Errorf("save preset: %w", err)
		}
	}

	docs := finalDocuments(eng.state)
	out := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := appFs.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	return writeDocuments(out, docs, format)
}

// runForced runs Convert, switches to the recognition branch and runs the rest.
func runForced(ctx context.Context, eng *engine) error {
	if _, err := eng.runner.RunCurrent(ctx); err != nil {
		return err
	}
	if err := eng.state.ForceRecognize(); err != nil {
		return err
	}
	return eng.runner.RunAll(ctx)
}

// statItems resolves "<library>/<path>" arguments.
func statItems(ctx context.Context, client explorer.Client, args []string) ([]explorer.Item, error) {
	items := make([]explorer.Item, 0, len(args))
	for _, arg := range args {
		driveID, itemID, ok := strings.Cut(strings.Trim(arg, "/"), "/")
		if !ok || itemID == "" {
			return nil, fmt.Errorf("invalid document %q: expected <library>/<path>", arg)
		}
		item, err := client.Stat(ctx, driveID, itemID)
		if err != nil {
			return nil, err
		}
		if item.Folder {
			return nil, fmt.Errorf("%s is a folder", arg)
		}
		items = append(items, item)
	}
	return items, nil
}

// finalDocuments returns the documents of the last stage that produced text.
func finalDocuments(state *pipeline.RunState) []pipeline.TextDocument {
	stages := state.Stages()
	for i := len(stages) - 1; i > 0; i-- {
		if stages[i].Output == nil {
			continue
		}
		if docs, ok := pipeline.Documents(stages[i].Output); ok {
			return docs
		}
	}
	return nil
}

func writeDocuments(w io.Writer, docs []pipeline.TextDocument, format string) error {
	switch format {
	case batch.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if docs == nil {
			docs = []pipeline.TextDocument{}
		}
		return enc.Encode(docs)
	case batch.FormatText, "txt", "":
		for _, d := range docs {
			if _, err := fmt.Fprintf(w, "# %s\n\n%s\n\n", d.Name, d.Text); err != nil {
				return err
			}
		}
		return nil
	case batch.FormatCSV:
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"id", "name", "origin", "text"})
		for _, d := range docs {
			_ = cw.Write([]string{d.ID, d.Name, string(d.Origin), d.Text})
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: %q", batch.ErrUnknownFormat, format)
}
