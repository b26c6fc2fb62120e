package spo

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubSolver satisfies the Solver contract with canned acreage per
// scenario. It derives the remaining variables so the returned solution is
// feasible for the model it was handed, and records every model it sees.
type stubSolver struct {
	mu         sync.Mutex
	acres      map[string]map[string]float64 // scenario name -> crop -> acres
	farm       *FarmData
	scens      *ScenarioSet
	status     SolveStatus // status to report, StatusOptimal by default
	failN      int         // report an adapter error for the first N calls
	errStatusN int         // report a solver-error status for the first N calls
	calls      int
	models     []*Model
}

func (st *stubSolver) Solve(ctx context.Context, model *Model) (*Solution, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.calls++
	st.models = append(st.models, model)

	if st.failN > 0 {
		st.failN--
		return nil, errors.New("stub adapter failure")
	}

	if st.errStatusN > 0 {
		st.errStatusN--
		return &Solution{Status: StatusSolverError}, nil
	}

	if st.status != StatusOptimal {
		return &Solution{Status: st.status}, nil
	}

	scenName := strings.TrimPrefix(model.Name, "farmer_")
	scen, err := st.scens.Lookup(scenName)
	if err != nil {
		return nil, err
	}

	varMap := make(map[string]float64)
	for _, crop := range st.farm.Crops {
		acres := st.acres[scenName][crop]
		tons := acres * scen.Yield[crop]
		need := st.farm.Data[crop].FeedRequirement

		varMap[acresCol(crop)] = acres
		varMap[tonsCol(crop)] = tons
		if tons < need {
			varMap[buyCol(crop)] = need - tons
		} else {
			surplus := tons - need
			quota := st.farm.Data[crop].PriceQuota
			if surplus > quota {
				varMap[subCol(crop)] = quota
				varMap[supCol(crop)] = surplus - quota
			} else {
				varMap[subCol(crop)] = surplus
			}
		}
	}

	point, err := model.PointFromMap(varMap)
	if err != nil {
		return nil, err
	}

	var objVal float64
	if err = model.ObjValue(point, &objVal); err != nil {
		return nil, err
	}

	return &Solution{Status: StatusOptimal, ObjVal: objVal, VarMap: varMap}, nil
}

// newStub wires a stub solver for the textbook farm with one fixed acreage
// vector per scenario.
func newStub(t *testing.T, acres map[string]map[string]float64) (*stubSolver, *FarmData, *ScenarioSet) {
	t.Helper()

	farm := TextbookFarm()
	scens, err := NewScenarioSet(TextbookScenarios())
	require.NoError(t, err)

	return &stubSolver{acres: acres, farm: farm, scens: scens}, farm, scens
}

func fixedAcres(wheat, corn, beets float64) map[string]float64 {
	return map[string]float64{"WHEAT": wheat, "CORN": corn, "SUGAR_BEETS": beets}
}

//==============================================================================
// COORDINATOR BEHAVIOR
//==============================================================================

// With a single scenario and rho zero the PH terms vanish, so the loop must
// converge in exactly one iteration to the plain solve's plan.
func TestPhSingleScenarioConvergesInOneIteration(t *testing.T) {
	farm := TextbookFarm()
	only := TextbookScenarios()[1]
	only.Prob = 1.0
	scens, err := NewScenarioSet([]Scenario{only})
	require.NoError(t, err)

	stub := &stubSolver{
		acres: map[string]map[string]float64{
			"AverageScenario": fixedAcres(120, 80, 300),
		},
		farm:  farm,
		scens: scens,
	}

	plain, err := SolveScenario(context.Background(), farm, &only, stub)
	require.NoError(t, err)

	result, err := RunPh(context.Background(), farm, scens, stub, PhCtrl{})
	require.NoError(t, err)

	assert.Equal(t, PhConverged, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.InDelta(t, 0.0, result.MaxDeviation, 1e-12)

	require.Len(t, result.Plans, 1)
	assert.Equal(t, plain.Acres, result.Plans[0].Acres)
	assert.InDelta(t, plain.ObjVal, result.Plans[0].ObjVal, 1e-9)

	for _, crop := range farm.Crops {
		assert.InDelta(t, plain.Acres[crop], result.Consensus[crop], 1e-12)
	}
}

// The consensus after each update must equal the probability-weighted
// average of the scenario acreage.
func TestPhConsensusIsWeightedAverage(t *testing.T) {
	acres := map[string]map[string]float64{
		"BelowAverageScenario": fixedAcres(100, 25, 375),
		"AverageScenario":      fixedAcres(120, 80, 300),
		"AboveAverageScenario": fixedAcres(183.33, 66.67, 250),
	}

	stub, farm, _ := newStub(t, acres)

	scens, err := NewScenarioSet([]Scenario{
		{Name: "BelowAverageScenario", Prob: 0.5, Yield: TextbookScenarios()[0].Yield},
		{Name: "AverageScenario", Prob: 0.3, Yield: TextbookScenarios()[1].Yield},
		{Name: "AboveAverageScenario", Prob: 0.2, Yield: TextbookScenarios()[2].Yield},
	})
	require.NoError(t, err)
	stub.scens = scens

	result, err := RunPh(context.Background(), farm, scens, stub, PhCtrl{MaxIter: 1})
	require.NoError(t, err)

	assert.Equal(t, PhMaxIterations, result.Status)
	assert.Equal(t, 1, result.Iterations)

	for _, crop := range farm.Crops {
		want := 0.5*acres["BelowAverageScenario"][crop] +
			0.3*acres["AverageScenario"][crop] +
			0.2*acres["AboveAverageScenario"][crop]
		assert.InDelta(t, want, result.Consensus[crop], 1e-9, crop)
	}

	assert.Greater(t, result.MaxDeviation, DefaultConvTol,
		"disagreeing scenarios must not count as converged")
}

// When every scenario reports the same acreage the loop converges on the
// first iteration regardless of the penalty configuration.
func TestPhAgreeingScenariosConverge(t *testing.T) {
	agreed := fixedAcres(130, 90, 280)
	stub, farm, scens := newStub(t, map[string]map[string]float64{
		"BelowAverageScenario": agreed,
		"AverageScenario":      agreed,
		"AboveAverageScenario": agreed,
	})

	rho := map[string]float64{"WHEAT": 1.0, "CORN": 1.0, "SUGAR_BEETS": 1.0}
	ctrl := PhCtrl{LinearActive: true, ProximalActive: true, Rho: rho, Parallel: true}

	result, err := RunPh(context.Background(), farm, scens, stub, ctrl)
	require.NoError(t, err)

	assert.Equal(t, PhConverged, result.Status)
	assert.Equal(t, 1, result.Iterations)
	for _, crop := range farm.Crops {
		assert.InDelta(t, agreed[crop], result.Consensus[crop], 1e-12)
	}
}

// The weight and proximal terms of iteration two must reflect the weight
// update w += rho*(x - xbar) applied after iteration one.
func TestPhWeightUpdateReachesModels(t *testing.T) {
	farm := TextbookFarm()
	scens, err := NewScenarioSet([]Scenario{
		{Name: "lo", Prob: 0.5, Yield: TextbookScenarios()[0].Yield},
		{Name: "hi", Prob: 0.5, Yield: TextbookScenarios()[2].Yield},
	})
	require.NoError(t, err)

	stub := &stubSolver{
		acres: map[string]map[string]float64{
			"lo": fixedAcres(100, 100, 300),
			"hi": fixedAcres(200, 100, 200),
		},
		farm:  farm,
		scens: scens,
	}

	rho := map[string]float64{"WHEAT": 2.0, "CORN": 2.0, "SUGAR_BEETS": 2.0}
	ctrl := PhCtrl{LinearActive: true, ProximalActive: true, Rho: rho, MaxIter: 2}

	_, err = RunPh(context.Background(), farm, scens, stub, ctrl)
	require.NoError(t, err)

	// Calls: 2 initial + 2 iteration-1 + 2 iteration-2.
	require.Equal(t, 6, stub.calls)

	// Iteration 2 model of scenario "lo". After iteration 1 the consensus
	// wheat acreage is 150 and w_lo = 2*(100-150) = -100, so the linear
	// wheat coefficient is 150 (cost) - 100 (w) - 2*2*150 (proximal).
	var loModel *Model
	for _, model := range stub.models[4:] {
		if model.Name == "farmer_lo" {
			loModel = model
		}
	}
	require.NotNil(t, loModel)

	iWheat := loModel.ColIndex("Acres_WHEAT")
	assert.InDelta(t, 150.0-100.0-600.0, objCoefFor(loModel, iWheat), 1e-9)
	assert.True(t, loModel.IsQuadratic())
}

//==============================================================================
// FAILURE HANDLING
//==============================================================================

func TestPhInfeasibleScenarioAborts(t *testing.T) {
	stub, farm, scens := newStub(t, nil)
	stub.status = StatusInfeasible

	_, err := RunPh(context.Background(), farm, scens, stub, PhCtrl{})
	require.Error(t, err)

	var failure *SolveFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StatusInfeasible, failure.Status)
	assert.Equal(t, 0, failure.Iteration, "initial solve should be the failing one")
	assert.NotEmpty(t, failure.Scenario)
}

func TestPhRetriesAdapterFailures(t *testing.T) {
	agreed := fixedAcres(120, 80, 300)
	stub, farm, scens := newStub(t, map[string]map[string]float64{
		"BelowAverageScenario": agreed,
		"AverageScenario":      agreed,
		"AboveAverageScenario": agreed,
	})
	stub.failN = 2

	result, err := RunPh(context.Background(), farm, scens, stub, PhCtrl{RetryLimit: 2})
	require.NoError(t, err, "two transient failures within the retry limit")
	assert.Equal(t, PhConverged, result.Status)

	// Exhausted retries surface as an error.
	stub.failN = 10
	_, err = RunPh(context.Background(), farm, scens, stub, PhCtrl{RetryLimit: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stub adapter failure")
}

func TestPhRejectsBadInput(t *testing.T) {
	stub, farm, scens := newStub(t, nil)

	_, err := RunPh(context.Background(), farm, nil, stub, PhCtrl{})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = RunPh(context.Background(), farm, scens, nil, PhCtrl{})
	assert.Error(t, err)

	_, err = RunPh(context.Background(), nil, scens, stub, PhCtrl{})
	assert.ErrorIs(t, err, ErrMissingParameter)
}

// A negative rho must be rejected even when only the linear term is active;
// the weight update reads rho regardless of the proximal flag, and a
// negative value there pushes the weights away from the consensus.
func TestPhRejectsNegativeRho(t *testing.T) {
	stub, farm, scens := newStub(t, nil)

	ctrl := PhCtrl{
		LinearActive: true,
		Rho:          map[string]float64{"WHEAT": -1.0, "CORN": 1.0, "SUGAR_BEETS": 1.0},
	}

	_, err := RunPh(context.Background(), farm, scens, stub, ctrl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rho")
	assert.Equal(t, 0, stub.calls, "validation precedes the initial solve")
}

func TestSolveWithRetryHonorsContext(t *testing.T) {
	stub, farm, _ := newStub(t, nil)
	stub.failN = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model, err := BuildModel(farm, averageScenario(t), nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = solveWithRetry(ctx, stub, model, 0, 1000)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second,
		"canceled context must stop the retry loop early")
}
