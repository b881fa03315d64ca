package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/metrics"
	"github.com/MeKo-Tech/docflow/internal/ocr"
)

// StageError reports a failed stage execution.
type StageError struct {
	StageID string
	Kind    StageKind
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.StageID, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Executors bundles one executor per processing kind. A nil executor makes
// stages of that kind fail.
type Executors struct {
	Convert     *ConvertExecutor
	Recognize   *RecognizeExecutor
	Postprocess *PostprocessExecutor
}

// Runner executes the current stage of a RunState and advances to the next
// enabled stage on success.
type Runner struct {
	state     *RunState
	executors Executors
	progress  ProgressCallback
	logger    *slog.Logger
}

// NewRunner creates a runner. progress may be nil.
func NewRunner(state *RunState, executors Executors, progress ProgressCallback, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{state: state, executors: executors, progress: orNoOp(progress), logger: logger}
}

// State returns the run state driven by r.
func (r *Runner) State() *RunState { return r.state }

// RunCurrent executes the current stage. When the Source stage is current,
// the first enabled processing stage is selected first. It returns the
// stage as stored after the run.
func (r *Runner) RunCurrent(ctx context.Context) (Stage, error) {
	stage := r.state.Current()
	if stage.Kind == KindSource {
		next, ok := r.nextEnabled(0)
		if !ok {
			return Stage{}, ErrNothingToRun
		}
		if err := r.state.SetCurrent(next.ID); err != nil {
			return Stage{}, err
		}
		stage = next
	}
	if !stage.Enabled {
		return stage, &StageError{StageID: stage.ID, Kind: stage.Kind, Err: ErrStageDisabled}
	}

	inputs, err := r.state.Inputs(stage.ID)
	if err != nil {
		return stage, err
	}
	items := r.state.SourceItems()

	start := time.Now()
	r.logger.Info("running stage", "stage_id", stage.ID, "kind", stage.Kind, "items", len(items))

	out, err := r.execute(ctx, stage, items, inputs)
	if err != nil {
		status := "failed"
		if errors.Is(err, ocr.ErrCancelled) {
			status = "cancelled"
			r.logger.Info("stage cancelled", "stage_id", stage.ID, "kind", stage.Kind)
		} else {
			r.logger.Error("stage failed", "stage_id", stage.ID, "kind", stage.Kind, "error", err)
		}
		metrics.StageRunsTotal.WithLabelValues(string(stage.Kind), status).Inc()
		return stage, &StageError{StageID: stage.ID, Kind: stage.Kind, Err: err}
	}
	metrics.StageRunsTotal.WithLabelValues(string(stage.Kind), "completed").Inc()
	r.logger.Info("stage completed", "stage_id", stage.ID, "kind", stage.Kind, "duration", time.Since(start).Round(time.Millisecond))

	if err := r.store(stage, out); err != nil {
		return stage, err
	}
	return r.state.Stage(stage.ID)
}

// RunAll runs stages from the current one until the last enabled stage has
// completed or a stage fails.
func (r *Runner) RunAll(ctx context.Context) error {
	for {
		stage, err := r.RunCurrent(ctx)
		if err != nil {
			return err
		}
		if r.state.Current().ID == stage.ID {
			return nil
		}
	}
}

func (r *Runner) execute(ctx context.Context, stage Stage, items []explorer.Item, inputs []StageOutput) (StageOutput, error) {
	switch cfg := stage.Config.(type) {
	case ConvertConfig:
		if r.executors.Convert == nil {
			return nil, errors.New("no convert executor configured")
		}
		return r.executors.Convert.Convert(ctx, cfg, items, r.progress)
	case RecognizeConfig:
		if r.executors.Recognize == nil {
			return nil, errors.New("no recognize executor configured")
		}
		return r.executors.Recognize.Recognize(ctx, cfg, items, r.progress)
	case PostprocessConfig:
		if r.executors.Postprocess == nil {
			return nil, errors.New("no postprocess executor configured")
		}
		return r.executors.Postprocess.Postprocess(ctx, cfg, inputs, r.progress)
	case SourceConfig:
		return nil, fmt.Errorf("%w: source stage is not executable", ErrInvalidStageKind)
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidStageKind, cfg)
	}
}

// store saves out and moves to the next stage. Convert output goes through
// the branch rule; a recognized document unlocks the Postprocess stage.
func (r *Runner) store(stage Stage, out StageOutput) error {
	switch o := out.(type) {
	case ConvertOutput:
		before := r.state.CurrentIndex()
		if err := r.state.ApplyConversion(stage.ID, o); err != nil {
			return err
		}
		if r.state.CurrentIndex() != before {
			return nil
		}
	case RecognizeOutput:
		if err := r.state.SetStageOutput(stage.ID, o); err != nil {
			return err
		}
		if post, ok := r.nextOfKind(stage.ID, KindPostprocess); ok && !post.Enabled {
			if err := r.state.SetStageEnabled(post.ID, true); err != nil {
				return err
			}
		}
	default:
		if err := r.state.SetStageOutput(stage.ID, out); err != nil {
			return err
		}
	}
	if next, ok := r.nextEnabledAfter(stage.ID); ok {
		return r.state.SetCurrent(next.ID)
	}
	return nil
}

func (r *Runner) nextEnabled(after int) (Stage, bool) {
	stages := r.state.Stages()
	for i := after + 1; i < len(stages); i++ {
		if stages[i].Enabled {
			return stages[i], true
		}
	}
	return Stage{}, false
}

func (r *Runner) nextEnabledAfter(id string) (Stage, bool) {
	for i, st := range r.state.Stages() {
		if st.ID == id {
			return r.nextEnabled(i)
		}
	}
	return Stage{}, false
}

func (r *Runner) nextOfKind(id string, kind StageKind) (Stage, bool) {
	found := false
	for _, st := range r.state.Stages() {
		if found && st.Kind == kind {
			return st, true
		}
		if st.ID == id {
			found = true
		}
	}
	return Stage{}, false
}
