package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stagehand/pkg/api"
)

// Wrapper wraps testify assertions with engine-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *require.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus engine-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// ResultCompleted asserts a run finished successfully
func (w *Wrapper) ResultCompleted(res *api.FlowResult) {
	w.Helper()
	w.Require.NotNil(res)
	w.Equal(api.RunCompleted, res.Status)
	w.True(res.Success)
	w.Empty(res.FailedSteps)
}

// ResultFailed asserts a run finished in the failed state
func (w *Wrapper) ResultFailed(res *api.FlowResult) {
	w.Helper()
	w.Require.NotNil(res)
	w.Equal(api.RunFailed, res.Status)
	w.False(res.Success)
}

// ResultCancelled asserts a run was cancelled
func (w *Wrapper) ResultCancelled(res *api.FlowResult) {
	w.Helper()
	w.Require.NotNil(res)
	w.Equal(api.RunCancelled, res.Status)
	w.False(res.Success)
}

// StepOutcomes asserts which steps completed, failed, and were skipped
func (w *Wrapper) StepOutcomes(
	res *api.FlowResult, completed, failed, skipped []api.StepID,
) {
	w.Helper()
	w.Require.NotNil(res)
	w.ElementsMatch(completed, res.CompletedSteps)
	w.ElementsMatch(failed, res.FailedSteps)
	w.ElementsMatch(skipped, res.SkippedSteps)
}

// RecordsFor returns the execution records of one step in attempt order
func (w *Wrapper) RecordsFor(
	res *api.FlowResult, stepID api.StepID,
) []api.StepExecutionRecord {
	w.Helper()
	var records []api.StepExecutionRecord
	for _, rec := range res.Records {
		if rec.StepID == stepID {
			records = append(records, rec)
		}
	}
	return records
}
