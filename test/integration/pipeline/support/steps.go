package support

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/cucumber/godog"
)

// RegisterSteps registers all pipeline step definitions.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the library holds a text document "([^"]*)" reading "([^"]*)"$`, tc.theLibraryHoldsATextDocument)
	sc.Step(`^the library holds a scanned document "([^"]*)"$`, tc.theLibraryHoldsAScannedDocument)
	sc.Step(`^a pipeline with stages "([^"]*)"$`, tc.aPipelineWithStages)

	sc.Step(`^I add a "([^"]*)" stage$`, tc.iAddAStage)
	sc.Step(`^I try to add a "([^"]*)" stage$`, tc.iTryToAddAStage)
	sc.Step(`^I remove the "([^"]*)" stage$`, tc.iRemoveTheStage)
	sc.Step(`^I try to remove the "([^"]*)" stage$`, tc.iTryToRemoveTheStage)
	sc.Step(`^I move the "([^"]*)" stage to the "([^"]*)" stage$`, tc.iMoveTheStage)
	sc.Step(`^I make the "([^"]*)" stage current$`, tc.iMakeTheStageCurrent)
	sc.Step(`^I select "([^"]*)"$`, tc.iSelect)
	sc.Step(`^I run the current stage$`, tc.iRunTheCurrentStage)
	sc.Step(`^I run all stages$`, tc.iRunAllStages)
	sc.Step(`^I force recognition$`, tc.iForceRecognition)

	sc.Step(`^the stage order is "([^"]*)"$`, tc.theStageOrderIs)
	sc.Step(`^the current stage is the "([^"]*)" stage$`, tc.theCurrentStageIs)
	sc.Step(`^the "([^"]*)" stage is (enabled|disabled)$`, tc.theStageIs)
	sc.Step(`^only the "([^"]*)" stage is expanded$`, tc.onlyTheStageIsExpanded)
	sc.Step(`^the move is refused$`, tc.theMoveIsRefused)
	sc.Step(`^the operation fails with "([^"]*)"$`, tc.theOperationFailsWith)
	sc.Step(`^the final text of "([^"]*)" contains "([^"]*)"$`, tc.theFinalTextContains)
	sc.Step(`^the final text of "([^"]*)" came from (embedded|recognized) text$`, tc.theFinalTextOrigin)
	sc.Step(`^the OCR engine recognized (\d+) pages?$`, tc.theEngineRecognizedPages)
	sc.Step(`^the "([^"]*)" stage has no output$`, tc.theStageHasNoOutput)
	sc.Step(`^listeners saw at least (\d+) snapshots$`, tc.listenersSawSnapshots)
}

func (tc *TestContext) theLibraryHoldsATextDocument(name, text string) error {
	return tc.writeDocument(name, textDocument(text))
}

func (tc *TestContext) theLibraryHoldsAScannedDocument(name string) error {
	data, err := imageDocument()
	if err != nil {
		return err
	}
	return tc.writeDocument(name, data)
}

func (tc *TestContext) aPipelineWithStages(list string) error {
	for _, kind := range splitList(list) {
		if err := tc.iAddAStage(kind); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) iAddAStage(kind string) error {
	k, err := pipeline.ParseStageKind(kind)
	if err != nil {
		return err
	}
	st, err := tc.State.AddStage(k)
	if err != nil {
		return err
	}
	tc.StageIDs[k] = append(tc.StageIDs[k], st.ID)
	return nil
}

func (tc *TestContext) iTryToAddAStage(kind string) error {
	k, err := pipeline.ParseStageKind(kind)
	if err == nil {
		_, err = tc.State.AddStage(k)
	}
	tc.LastError = err
	return nil
}

func (tc *TestContext) iRemoveTheStage(ref string) error {
	id, err := tc.stageID(ref)
	if err != nil {
		return err
	}
	if err := tc.State.RemoveStage(id); err != nil {
		return err
	}
	for kind, ids := range tc.StageIDs {
		for i, v := range ids {
			if v == id {
				tc.StageIDs[kind] = append(ids[:i:i], ids[i+1:]...)
			}
		}
	}
	return nil
}

func (tc *TestContext) iTryToRemoveTheStage(ref string) error {
	id, err := tc.stageID(ref)
	if err != nil {
		return err
	}
	tc.LastError = tc.State.RemoveStage(id)
	return nil
}

func (tc *TestContext) iMoveTheStage(from, to string) error {
	fromID, err := tc.stageID(from)
	if err != nil {
		return err
	}
	toID, err := tc.stageID(to)
	if err != nil {
		return err
	}
	tc.LastMoved = tc.State.ReorderStage(fromID, toID)
	return nil
}

func (tc *TestContext) iMakeTheStageCurrent(ref string) error {
	id, err := tc.stageID(ref)
	if err != nil {
		return err
	}
	return tc.State.SetCurrent(id)
}

func (tc *TestContext) iSelect(list string) error {
	names := splitList(list)
	items := make([]explorer.Item, 0, len(names))
	for _, name := range names {
		item, err := tc.Explorer.Stat(context.Background(), libraryName, name)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	return tc.State.OnSourceOutputChanged(items)
}

func (tc *TestContext) iRunTheCurrentStage() error {
	_, err := tc.Runner.RunCurrent(context.Background())
	tc.LastError = err
	return nil
}

func (tc *TestContext) iRunAllStages() error {
	tc.LastError = tc.Runner.RunAll(context.Background())
	return tc.LastError
}

func (tc *TestContext) iForceRecognition() error {
	return tc.State.ForceRecognize()
}

func (tc *TestContext) theStageOrderIs(list string) error {
	want := splitList(list)
	stages := tc.State.Stages()
	got := make([]string, len(stages))
	for i, st := range stages {
		got[i] = string(st.Kind)
	}
	if strings.Join(got, ", ") != strings.Join(want, ", ") {
		return fmt.Errorf("expected stage order %v, got %v", want, got)
	}
	return nil
}

func (tc *TestContext) theCurrentStageIs(ref string) error {
	id, err := tc.stageID(ref)
	if err != nil {
		return err
	}
	if cur := tc.State.Current(); cur.ID != id {
		return fmt.Errorf("expected %s to be current, got %s stage %s", ref, cur.Kind, cur.ID)
	}
	return nil
}

func (tc *TestContext) theStageIs(ref, state string) error {
	st, err := tc.stageByRef(ref)
	if err != nil {
		return err
	}
	if want := state == "enabled"; st.Enabled != want {
		return fmt.Errorf("expected %s stage to be %s", ref, state)
	}
	return nil
}

func (tc *TestContext) onlyTheStageIsExpanded(ref string) error {
	id, err := tc.stageID(ref)
	if err != nil {
		return err
	}
	snap := tc.State.Snapshot()
	for i, expanded := range snap.ExpandedState {
		isTarget := snap.ProcessingStages[i].ID == id
		if expanded != isTarget {
			return fmt.Errorf("stage %d (%s) expanded=%v", i, snap.ProcessingStages[i].Kind, expanded)
		}
	}
	return nil
}

func (tc *TestContext) theMoveIsRefused() error {
	if tc.LastMoved {
		return errors.New("expected the move to be refused")
	}
	return nil
}

func (tc *TestContext) theOperationFailsWith(text string) error {
	if tc.LastError == nil {
		return errors.New("expected an error, got none")
	}
	if !strings.Contains(tc.LastError.Error(), text) {
		return fmt.Errorf("expected error containing %q, got %q", text, tc.LastError.Error())
	}
	return nil
}

func (tc *TestContext) finalDocument(name string) (pipeline.TextDocument, error) {
	for _, d := range tc.finalDocuments() {
		if d.Name == name {
			return d, nil
		}
	}
	return pipeline.TextDocument{}, fmt.Errorf("no final document named %s", name)
}

func (tc *TestContext) theFinalTextContains(name, text string) error {
	doc, err := tc.finalDocument(name)
	if err != nil {
		return err
	}
	if !strings.Contains(doc.Text, text) {
		return fmt.Errorf("expected %s to contain %q, got %q", name, text, doc.Text)
	}
	return nil
}

func (tc *TestContext) theFinalTextOrigin(name, origin string) error {
	doc, err := tc.finalDocument(name)
	if err != nil {
		return err
	}
	if string(doc.Origin) != origin {
		return fmt.Errorf("expected %s text to be %s, got %s", name, origin, doc.Origin)
	}
	return nil
}

func (tc *TestContext) theEngineRecognizedPages(n int) error {
	if got := tc.Engine.Calls(); got != n {
		return fmt.Errorf("expected %d recognized pages, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) theStageHasNoOutput(ref string) error {
	st, err := tc.stageByRef(ref)
	if err != nil {
		return err
	}
	if st.Output != nil {
		return fmt.Errorf("expected %s stage to have no output", ref)
	}
	return nil
}

func (tc *TestContext) listenersSawSnapshots(n int) error {
	if tc.Snapshots < n {
		return fmt.Errorf("expected at least %d snapshots, got %d", n, tc.Snapshots)
	}
	return nil
}

func splitList(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
