package spo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveStatusString(t *testing.T) {
	assert.Equal(t, "optimal", StatusOptimal.String())
	assert.Equal(t, "infeasible", StatusInfeasible.String())
	assert.Equal(t, "unbounded", StatusUnbounded.String())
	assert.Equal(t, "solver-error", StatusSolverError.String())
}

func TestPhStatusString(t *testing.T) {
	assert.Equal(t, "converged", PhConverged.String())
	assert.Equal(t, "max-iterations-reached", PhMaxIterations.String())
}

func TestSolutionClassifiers(t *testing.T) {
	assert.True(t, (&Solution{Status: StatusOptimal}).IsOptimal())
	assert.True(t, (&Solution{Status: StatusInfeasible}).IsInfeasible())
	assert.True(t, (&Solution{Status: StatusUnbounded}).IsUnbounded())

	soln := &Solution{Status: StatusSolverError}
	assert.False(t, soln.IsOptimal())
	assert.False(t, soln.IsInfeasible())
	assert.False(t, soln.IsUnbounded())
}

// Infeasible outcomes carry no adapter error, so the retry helper must
// return them on the first attempt rather than re-solving a model that
// cannot become feasible.
func TestSolveWithRetryDoesNotRetryStatuses(t *testing.T) {
	stub, farm, _ := newStub(t, nil)
	stub.status = StatusInfeasible

	model, err := BuildModel(farm, averageScenario(t), nil)
	require.NoError(t, err)

	soln, err := solveWithRetry(context.Background(), stub, model, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, soln.Status)
	assert.Equal(t, 1, stub.calls)
}

// A back end that reports an unclassified failure as a Solution status with
// a nil error must run through the same retry path as one that returns an
// error outright.
func TestSolveWithRetryRetriesSolverErrorStatus(t *testing.T) {
	stub, farm, _ := newStub(t, nil)
	stub.status = StatusSolverError

	model, err := BuildModel(farm, averageScenario(t), nil)
	require.NoError(t, err)

	_, err = solveWithRetry(context.Background(), stub, model, 0, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), StatusSolverError.String())
	assert.Equal(t, 4, stub.calls, "a solver-error status must consume every attempt")
}

func TestSolveWithRetryRecoversFromSolverErrorStatus(t *testing.T) {
	stub, farm, _ := newStub(t, map[string]map[string]float64{
		"AverageScenario": fixedAcres(120, 80, 300),
	})
	stub.errStatusN = 2

	model, err := BuildModel(farm, averageScenario(t), nil)
	require.NoError(t, err)

	soln, err := solveWithRetry(context.Background(), stub, model, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, soln.Status)
	assert.Equal(t, 3, stub.calls)
}

func TestSolveWithRetryNegativeLimit(t *testing.T) {
	stub, farm, _ := newStub(t, nil)
	stub.failN = 1

	model, err := BuildModel(farm, averageScenario(t), nil)
	require.NoError(t, err)

	_, err = solveWithRetry(context.Background(), stub, model, 0, -3)
	require.Error(t, err, "a negative limit means a single attempt")
	assert.Equal(t, 1, stub.calls)
}
