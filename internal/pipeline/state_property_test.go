package pipeline

import (
	"reflect"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// op is one random mutation: 0 add, 1 remove, 2 reorder, 3 remove source,
// 4 reorder with source.
type op struct {
	Code int
	A, B int
	Kind int
}

func genOps() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(op{}), map[string]gopter.Gen{
		"Code": gen.IntRange(0, 4),
		"A":    gen.IntRange(0, 8),
		"B":    gen.IntRange(0, 8),
		"Kind": gen.IntRange(0, 2),
	}))
}

func pick(stages []Stage, i int) string {
	if len(stages) <= 1 {
		return "missing"
	}
	return stages[1+i%(len(stages)-1)].ID
}

func apply(s *RunState, o op) {
	stages := s.Stages()
	switch o.Code {
	case 0:
		_, _ = s.AddStage(ProcessingKinds()[o.Kind])
	case 1:
		_ = s.RemoveStage(pick(stages, o.A))
	case 2:
		s.ReorderStage(pick(stages, o.A), pick(stages, o.B))
	case 3:
		_ = s.RemoveStage(SourceStageID)
	case 4:
		s.ReorderStage(SourceStageID, pick(stages, o.B))
		s.ReorderStage(pick(stages, o.A), SourceStageID)
	}
}

func TestRunState_InvariantsUnderRandomMutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("source stays first with a fixed id", prop.ForAll(
		func(ops []op) bool {
			s := NewRunState(sequentialIDs())
			for _, o := range ops {
				apply(s, o)
				stages := s.Stages()
				if stages[0].ID != SourceStageID || stages[0].Kind != KindSource {
					return false
				}
				if slices.ContainsFunc(stages[1:], func(st Stage) bool { return st.Kind == KindSource }) {
					return false
				}
			}
			return true
		},
		genOps(),
	))

	properties.Property("current index and expansion stay aligned", prop.ForAll(
		func(ops []op) bool {
			s := NewRunState(sequentialIDs())
			for _, o := range ops {
				apply(s, o)
				snap := s.Snapshot()
				n := len(snap.ProcessingStages) + 1
				if snap.CurrentIndex < 0 || snap.CurrentIndex >= n {
					return false
				}
				if len(snap.ExpandedState) != n {
					return false
				}
			}
			return true
		},
		genOps(),
	))

	properties.Property("reorder is an array move", prop.ForAll(
		func(size, from, to int) bool {
			s := NewRunState(sequentialIDs())
			for i := 0; i < size; i++ {
				_, _ = s.AddStage(KindConvert)
			}
			before := s.Stages()
			from, to = 1+from%size, 1+to%size
			s.ReorderStage(before[from].ID, before[to].ID)

			want := slices.Clone(before)
			moved := want[from]
			want = slices.Delete(want, from, from+1)
			want = slices.Insert(want, to, moved)

			after := s.Stages()
			for i := range want {
				if want[i].ID != after[i].ID {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestConversion_BranchSoundness(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("non-empty page text disables recognition", prop.ForAll(
		func(texts []string, force bool) bool {
			s, ids := newState(t, KindConvert, KindRecognize, KindPostprocess)
			out := convertOutput(texts...)
			if err := s.ApplyConversion(ids[0], out); err != nil {
				return false
			}
			res := out.Files[0].Result
			if len(res.Images) != len(res.PageTexts) {
				return false
			}
			if force {
				if err := s.ForceRecognize(); err != nil {
					return false
				}
			}
			rec, _ := s.Stage(ids[1])
			post, _ := s.Stage(ids[2])
			if out.HasText() && !force {
				return !rec.Enabled && post.Enabled && s.CurrentIndex() == 3
			}
			return rec.Enabled && !post.Enabled && s.CurrentIndex() == 2
		},
		gen.SliceOf(gen.OneGenOf(gen.Const(""), gen.Const(" "), gen.AlphaString())),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
