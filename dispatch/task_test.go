package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/lorekeep/spindle/id"
)

func TestTaskStepRunsOnce(t *testing.T) {
	j := &Job{ID: id.NewJobID()}
	saves := 0
	task := NewTask(j, nil, func(context.Context) error {
		saves++
		return nil
	})

	runs := 0
	step := func(context.Context) error {
		runs++
		return nil
	}

	if err := task.Step(context.Background(), "upload", step); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := task.Step(context.Background(), "upload", step); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if runs != 1 {
		t.Errorf("step ran %d times, want 1", runs)
	}
	if saves != 1 {
		t.Errorf("marker saved %d times, want 1", saves)
	}
	if !j.StepDone("upload") {
		t.Error("marker not recorded")
	}
}

func TestTaskStepResumesAfterMarker(t *testing.T) {
	// Simulates a retry of a job whose first step already completed.
	j := &Job{ID: id.NewJobID(), StepsDone: []string{"upload"}}
	task := NewTask(j, nil, nil)

	uploadRuns, projectRuns := 0, 0

	_ = task.Step(context.Background(), "upload", func(context.Context) error {
		uploadRuns++
		return nil
	})
	_ = task.Step(context.Background(), "project", func(context.Context) error {
		projectRuns++
		return nil
	})

	if uploadRuns != 0 {
		t.Errorf("completed step re-ran %d times", uploadRuns)
	}
	if projectRuns != 1 {
		t.Errorf("next step ran %d times, want 1", projectRuns)
	}
}

func TestTaskStepFailureWrapsStepError(t *testing.T) {
	j := &Job{ID: id.NewJobID()}
	task := NewTask(j, nil, nil)

	boom := errors.New("bucket unavailable")
	err := task.Step(context.Background(), "upload", func(context.Context) error {
		return boom
	})

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "upload" || !errors.Is(err, boom) {
		t.Errorf("StepError = %+v", stepErr)
	}
	if j.StepDone("upload") {
		t.Error("failed step must not record a marker")
	}
}
