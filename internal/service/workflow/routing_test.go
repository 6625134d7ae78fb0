package workflow

import (
	"testing"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/testutil"
)

func TestRoute_Multi(t *testing.T) {
	tests := []struct {
		name       string
		current    core.StageName
		functional bool
		iteration  int
		want       Decision
	}{
		{"start", core.StageNone, false, 0, Decision{Next: core.StageCoder}},
		{"coder to verifier", core.StageCoder, false, 0, Decision{Next: core.StageVerifier}},
		{"verified", core.StageVerifier, true, 0, Decision{Next: core.StageSynthesizer}},
		{"retry", core.StageVerifier, false, 0, Decision{Next: core.StageCoder, Retry: true}},
		{"last retry", core.StageVerifier, false, 2, Decision{Next: core.StageCoder, Retry: true}},
		{"exhausted", core.StageVerifier, false, 3, Decision{Outcome: core.OutcomeFailure}},
		{"verified after retries", core.StageVerifier, true, 3, Decision{Next: core.StageSynthesizer}},
		{"synthesis to ppa", core.StageSynthesizer, true, 1, Decision{Next: core.StagePPAAnalyst}},
		{"ppa ends", core.StagePPAAnalyst, true, 1, Decision{Outcome: core.OutcomeSuccess}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testutil.NewTestState(func(s *core.WorkflowState) {
				s.CurrentStage = tt.current
				s.FunctionalValid = tt.functional
				s.IterationCount = tt.iteration
			})
			got, err := Route(state)
			if err != nil {
				t.Fatalf("Route() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Route() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRoute_Single(t *testing.T) {
	single := func(stage core.StageName, functional bool, iteration int) *core.WorkflowState {
		return testutil.NewTestState(func(s *core.WorkflowState) {
			s.Mode = core.ModeSingle
			s.CurrentStage = stage
			s.FunctionalValid = functional
			s.IterationCount = iteration
		})
	}

	cases := []struct {
		state *core.WorkflowState
		want  Decision
	}{
		{single(core.StageNone, false, 0), Decision{Next: core.StageArchitect}},
		{single(core.StageArchitect, true, 0), Decision{Outcome: core.OutcomeSuccess}},
		{single(core.StageArchitect, false, 1), Decision{Next: core.StageArchitect, Retry: true}},
		{single(core.StageArchitect, false, 3), Decision{Outcome: core.OutcomeFailure}},
	}
	for _, c := range cases {
		got, err := Route(c.state)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if got != c.want {
			t.Errorf("Route(%s, iter %d) = %+v, want %+v", c.state.CurrentStage, c.state.IterationCount, got, c.want)
		}
	}
}

func TestRoute_StageFromOtherMode(t *testing.T) {
	state := testutil.NewTestState(func(s *core.WorkflowState) { s.CurrentStage = core.StageArchitect })
	if _, err := Route(state); !core.IsCategory(err, core.ErrCatState) {
		t.Errorf("expected state error, got %v", err)
	}

	state = testutil.NewTestState(func(s *core.WorkflowState) {
		s.Mode = core.ModeSingle
		s.CurrentStage = core.StageCoder
	})
	if _, err := Route(state); err == nil {
		t.Error("coder is not part of single mode")
	}
}

func TestRoute_TerminalStateIsStable(t *testing.T) {
	state := testutil.NewTestState(func(s *core.WorkflowState) {
		s.CurrentStage = core.StagePPAAnalyst
		s.Outcome = core.OutcomeSuccess
	})
	got, err := Route(state)
	if err != nil || !got.Terminal() || got.Outcome != core.OutcomeSuccess {
		t.Errorf("Route() = %+v, %v", got, err)
	}
}

func TestRoute_IterationNeverExceedsBudget(t *testing.T) {
	for limit := 1; limit <= 5; limit++ {
		state := testutil.NewTestState(func(s *core.WorkflowState) { s.MaxIterations = limit })
		runs := 0
		for {
			d, err := Route(state)
			if err != nil {
				t.Fatal(err)
			}
			if d.Terminal() {
				if d.Outcome != core.OutcomeFailure {
					t.Errorf("limit %d: outcome %s, want failure", limit, d.Outcome)
				}
				break
			}
			if d.Retry {
				state.IterationCount++
			}
			if state.IterationCount > state.MaxIterations {
				t.Fatalf("limit %d: iteration %d exceeds budget", limit, state.IterationCount)
			}
			state.CurrentStage = d.Next
			runs++
		}
		if runs > MaxStageRuns(limit) {
			t.Errorf("limit %d: %d stage runs exceed bound %d", limit, runs, MaxStageRuns(limit))
		}
		if state.IterationCount != limit {
			t.Errorf("limit %d: final iteration %d", limit, state.IterationCount)
		}
	}
}
