package pipeline

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/google/uuid"
)

// Snapshot is the host-facing projection of a RunState.
type Snapshot struct {
	SourceOutput     SourceOutput           `json:"source_output"`
	ProcessingStages []Stage                `json:"processing_stages"`
	StageOutputs     map[string]StageOutput `json:"stage_outputs"`
	ExpandedState    []bool                 `json:"expanded_state"`
	CurrentIndex     int                    `json:"current_index"`
}

// Listener receives snapshots that differ from the previously delivered one.
type Listener func(Snapshot)

// RunState is the stage graph of one pipeline instance. Stage 0 is always
// the Source stage. All methods are safe for concurrent use.
type RunState struct {
	mu       sync.Mutex
	stages   []Stage
	expanded []bool // parallel to stages
	current  int
	newID    func() string

	subID     int
	listeners map[int]Listener
	last      *Snapshot
}

// Option configures a RunState.
type Option func(*RunState)

// WithIDGenerator replaces the uuid based stage id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *RunState) { s.newID = fn }
}

// NewRunState creates a pipeline holding only the Source stage.
func NewRunState(opts ...Option) *RunState {
	s := &RunState{
		stages: []Stage{{
			ID:      SourceStageID,
			Kind:    KindSource,
			Config:  SourceConfig{},
			Enabled: true,
		}},
		expanded:  []bool{true},
		newID:     uuid.NewString,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refreshStatus()
	return s
}

// AddStage appends a processing stage with its default config, makes it
// current and the only expanded stage.
func (s *RunState) AddStage(kind StageKind) (Stage, error) {
	if kind == KindSource {
		return Stage{}, fmt.Errorf("%w: %q", ErrInvalidStageKind, kind)
	}
	cfg, err := DefaultConfig(kind)
	if err != nil {
		return Stage{}, err
	}

	s.mu.Lock()
	st := Stage{ID: s.newID(), Kind: kind, Config: cfg, Enabled: true}
	s.stages = append(s.stages, st)
	s.expanded = append(s.expanded, false)
	s.current = len(s.stages) - 1
	s.expandOnly(s.current)
	s.refreshStatus()
	st = s.stages[s.current]
	s.commit()
	return st, nil
}

// RemoveStage deletes a processing stage. The current index moves down by
// one when the removed stage was at or before it.
func (s *RunState) RemoveStage(id string) error {
	if id == SourceStageID {
		return fmt.Errorf("%w: %s", ErrProtectedStage, id)
	}
	s.mu.Lock()
	idx := s.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStageNotFound, id)
	}
	s.stages = slices.Delete(s.stages, idx, idx+1)
	s.expanded = slices.Delete(s.expanded, idx, idx+1)
	if idx <= s.current {
		s.current--
	}
	s.current = clamp(s.current, 0, len(s.stages)-1)
	s.refreshStatus()
	s.commit()
	return nil
}

// ReorderStage moves the stage fromID to the position of toID, keeping the
// relative order of all other stages. Expansion flags move with their
// stages and the current stage keeps its identity. It is a no-op, returning
// false, when either id is the Source stage or unknown.
func (s *RunState) ReorderStage(fromID, toID string) bool {
	if fromID == SourceStageID || toID == SourceStageID {
		return false
	}
	s.mu.Lock()
	from, to := s.index(fromID), s.index(toID)
	if from < 0 || to < 0 || from == to {
		s.mu.Unlock()
		return false
	}
	currentID := s.stages[s.current].ID
	s.stages = move(s.stages, from, to)
	s.expanded = move(s.expanded, from, to)
	s.current = s.index(currentID)
	s.refreshStatus()
	s.commit()
	return true
}

// SetStageConfig replaces the config of a stage.
func (s *RunState) SetStageConfig(id string, cfg StageConfig) error {
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if cfg == nil || cfg.Kind() != s.stages[idx].Kind {
		s.mu.Unlock()
		return fmt.Errorf("%w: stage %s is %s", ErrConfigMismatch, id, s.stages[idx].Kind)
	}
	s.stages[idx].Config = cfg
	s.commit()
	return nil
}

// SetStageOutput replaces the output of a stage and marks every later stage
// dirty. It never moves the current index.
func (s *RunState) SetStageOutput(id string, out StageOutput) error {
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if out != nil && out.Kind() != s.stages[idx].Kind {
		s.mu.Unlock()
		return fmt.Errorf("%w: output for stage %s is %s", ErrConfigMismatch, id, out.Kind())
	}
	s.setOutput(idx, out)
	s.refreshStatus()
	s.commit()
	return nil
}

// OnSourceOutputChanged replaces the selection. With at least one
// processing stage, stage 1 becomes current and the only expanded stage.
func (s *RunState) OnSourceOutputChanged(items []explorer.Item) error {
	s.mu.Lock()
	s.setOutput(0, SourceOutput{Items: slices.Clone(items)})
	if len(s.stages) > 1 {
		s.current = 1
		s.expandOnly(1)
	}
	s.refreshStatus()
	s.commit()
	return nil
}

// ApplyConversion stores the output of a Convert stage and applies the
// branch rule: when any page has embedded text the next Recognize stage is
// disabled and the next Postprocess stage enabled and made current;
// otherwise Recognize is enabled and current and Postprocess disabled.
func (s *RunState) ApplyConversion(convertID string, out ConvertOutput) error {
	s.mu.Lock()
	idx, err := s.lookup(convertID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.stages[idx].Kind != KindConvert {
		s.mu.Unlock()
		return fmt.Errorf("%w: stage %s is %s", ErrConfigMismatch, convertID, s.stages[idx].Kind)
	}
	s.setOutput(idx, out)

	rec := s.nextOfKind(idx, KindRecognize)
	post := s.nextOfKind(idx, KindPostprocess)
	if out.HasText() {
		s.branch(post, rec)
	} else {
		s.branch(rec, post)
	}
	s.refreshStatus()
	s.commit()
	return nil
}

// ForceRecognize enables the Recognize stage following the first Convert
// stage, disables the Postprocess stage after it and makes Recognize current.
func (s *RunState) ForceRecognize() error {
	s.mu.Lock()
	start := s.nextOfKind(0, KindConvert)
	if start < 0 {
		start = 0
	}
	rec := s.nextOfKind(start, KindRecognize)
	if rec < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: no recognize stage", ErrStageNotFound)
	}
	s.branch(rec, s.nextOfKind(start, KindPostprocess))
	s.refreshStatus()
	s.commit()
	return nil
}

// SetStageEnabled toggles a processing stage.
func (s *RunState) SetStageEnabled(id string, enabled bool) error {
	if id == SourceStageID {
		return fmt.Errorf("%w: %s", ErrProtectedStage, id)
	}
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.stages[idx].Enabled = enabled
	s.commit()
	return nil
}

// Expand sets the expansion flag of a stage.
func (s *RunState) Expand(id string, expanded bool) error {
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.expanded[idx] = expanded
	s.commit()
	return nil
}

// SetCurrent makes a stage current and the only expanded stage.
func (s *RunState) SetCurrent(id string) error {
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = idx
	s.expandOnly(idx)
	s.refreshStatus()
	s.commit()
	return nil
}

// Stage returns a copy of the stage with the given id.
func (s *RunState) Stage(id string) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(id)
	if err != nil {
		return Stage{}, err
	}
	return s.stages[idx], nil
}

// Stages returns copies of all stages, Source first.
func (s *RunState) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stages)
}

// CurrentIndex returns the index of the current stage.
func (s *RunState) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Current returns the current stage.
func (s *RunState) Current() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages[s.current]
}

// SourceItems returns the current selection.
func (s *RunState) SourceItems() []explorer.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.stages[0].Output.(SourceOutput); ok {
		return slices.Clone(out.Items)
	}
	return nil
}

// EffectiveInput returns the output of the nearest preceding enabled stage
// that has one, falling back to the Source output.
func (s *RunState) EffectiveInput(id string) (StageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if in := s.preceding(idx); len(in) > 0 {
		return in[0], nil
	}
	return SourceOutput{}, nil
}

// Inputs returns the outputs of the enabled stages before id, nearest
// first, ending with the Source output.
func (s *RunState) Inputs(id string) ([]StageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.preceding(idx), nil
}

// Snapshot returns the current projection.
func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Subscribe registers a listener and returns a function that removes it.
func (s *RunState) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subID++
	id := s.subID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// commit must be called with s.mu held; it releases the lock and notifies
// listeners when the snapshot changed structurally.
func (s *RunState) commit() {
	snap := s.snapshot()
	if s.last != nil && reflect.DeepEqual(*s.last, snap) {
		s.mu.Unlock()
		return
	}
	s.last = &snap
	listeners := make([]Listener, 0, len(s.listeners))
	for _, id := range slices.Sorted(maps.Keys(s.listeners)) {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *RunState) snapshot() Snapshot {
	snap := Snapshot{
		ProcessingStages: make([]Stage, 0, len(s.stages)-1),
		StageOutputs:     make(map[string]StageOutput),
		ExpandedState:    slices.Clone(s.expanded),
		CurrentIndex:     s.current,
	}
	if out, ok := s.stages[0].Output.(SourceOutput); ok {
		snap.SourceOutput = SourceOutput{Items: slices.Clone(out.Items)}
	}
	for _, st := range s.stages[1:] {
		if st.Output != nil {
			snap.StageOutputs[st.ID] = st.Output
		}
		st.Output = nil
		snap.ProcessingStages = append(snap.ProcessingStages, st)
	}
	return snap
}

func (s *RunState) setOutput(idx int, out StageOutput) {
	s.stages[idx].Output = out
	s.stages[idx].Dirty = false
	for i := idx + 1; i < len(s.stages); i++ {
		if s.stages[i].Output != nil {
			s.stages[i].Dirty = true
		}
	}
}

// branch enables and focuses on, and disables off. Either may be -1.
func (s *RunState) branch(on, off int) {
	if off >= 0 {
		s.stages[off].Enabled = false
	}
	if on >= 0 {
		s.stages[on].Enabled = true
		s.current = on
		s.expandOnly(on)
	}
}

func (s *RunState) preceding(idx int) []StageOutput {
	var out []StageOutput
	for i := idx - 1; i >= 1; i-- {
		st := s.stages[i]
		if st.Enabled && st.Output != nil {
			out = append(out, st.Output)
		}
	}
	if src, ok := s.stages[0].Output.(SourceOutput); ok {
		out = append(out, src)
	} else {
		out = append(out, SourceOutput{})
	}
	return out
}

func (s *RunState) refreshStatus() {
	for i := range s.stages {
		switch {
		case i == s.current:
			s.stages[i].Status = StatusCurrent
		case s.stages[i].Output != nil && !s.stages[i].Dirty:
			s.stages[i].Status = StatusDone
		default:
			s.stages[i].Status = StatusFuture
		}
	}
}

func (s *RunState) expandOnly(idx int) {
	for i := range s.expanded {
		s.expanded[i] = i == idx
	}
}

func (s *RunState) nextOfKind(after int, kind StageKind) int {
	for i := after + 1; i < len(s.stages); i++ {
		if s.stages[i].Kind == kind {
			return i
		}
	}
	return -1
}

func (s *RunState) index(id string) int {
	return slices.IndexFunc(s.stages, func(st Stage) bool { return st.ID == id })
}

func (s *RunState) lookup(id string) (int, error) {
	idx := s.index(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrStageNotFound, id)
	}
	return idx, nil
}

// move is an array move: the element at from ends up at index to.
func move[T any](s []T, from, to int) []T {
	v := s[from]
	s = slices.Delete(s, from, from+1)
	return slices.Insert(s, to, v)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
