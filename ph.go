package spo

// ph: The progressive hedging coordinator.
//
// The coordinator owns the consensus plan and the per-scenario weight
// vectors. Scenario subproblems within one iteration share nothing and may
// be solved in parallel; the consensus and weight update is a barrier that
// waits for every solve of the iteration before it runs, and finishes
// before the next iteration starts. Reaching the iteration cap is a
// terminal status, not an error: the best-known consensus plan is still
// returned.

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Design defaults for the PH loop.
const (
	DefaultConvTol = 1.0e-4 // Convergence tolerance on max acreage deviation
	DefaultMaxIter = 100    // Iteration cap
)

// PhStatus describes how a PH run ended.
type PhStatus int

const (
	// PhConverged means every scenario's acreage agrees with the
	// consensus within the tolerance.
	PhConverged PhStatus = iota

	// PhMaxIterations means the iteration cap was reached before
	// convergence. The result still carries the best-known plan.
	PhMaxIterations
)

// String returns the printable name of the status.
func (s PhStatus) String() string {
	switch s {
	case PhConverged:
		return "converged"
	case PhMaxIterations:
		return "max-iterations-reached"
	}
	return "unknown"
}

// PhCtrl specifies how the PH loop behaves. The zero value runs the loop
// with both penalty terms off and the design defaults for tolerance and
// iteration cap.
type PhCtrl struct {
	LinearActive   bool               // Controls if the linear weight term is used
	ProximalActive bool               // Controls if the quadratic proximal term is used
	Rho            map[string]float64 // Proximal coefficient per crop, 0 disables a crop
	ConvTol        float64            // Convergence tolerance, DefaultConvTol if 0
	MaxIter        int                // Iteration cap, DefaultMaxIter if 0
	RetryLimit     int                // Retries for adapter-level solver failures
	SolveTimeout   time.Duration      // Per-solve timeout, 0 for none
	Parallel       bool               // Controls if scenario solves run concurrently
	Logger         *zap.Logger        // Iteration logging, nil for none
}

// PhResult returns the outcome of a PH run: the terminal status, the number
// of iterations performed after the initial solve, the consensus acreage,
// and the final per-scenario decision plans.
type PhResult struct {
	Status       PhStatus           // Terminal status of the run
	Iterations   int                // PH iterations performed (excluding the initial solve)
	Consensus    map[string]float64 // Consensus acreage per crop
	MaxDeviation float64            // Largest |acres - consensus| at termination
	Plans        []*DecisionPlan    // Final decision plan per scenario, in set order
}

// SolveFailure reports a scenario subproblem the solver classified as
// infeasible or unbounded. These are modeling errors and are not retried;
// the failure identifies the scenario and iteration for diagnosis.
type SolveFailure struct {
	Scenario  string      // Scenario whose subproblem failed
	Iteration int         // PH iteration, 0 for the initial solve
	Status    SolveStatus // Classification reported by the solver
}

// Error satisfies the error interface.
func (e *SolveFailure) Error() string {
	return fmt.Sprintf("scenario %s iteration %d: solver reported %s",
		e.Scenario, e.Iteration, e.Status)
}

//==============================================================================
// SINGLE SCENARIO SOLVE
//==============================================================================

// SolveScenario builds and solves the plain model of a single scenario,
// with no PH terms, and returns the resulting decision plan. This is the
// deterministic demonstration mode of the problem.
// In case of failure, function returns an error.
func SolveScenario(ctx context.Context, farm *FarmData, scen *Scenario,
	solver Solver) (*DecisionPlan, error) {

	model, err := BuildModel(farm, scen, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "SolveScenario failed to build scenario %s", scen.Name)
	}

	soln, err := solver.Solve(ctx, model)
	if err != nil {
		return nil, errors.Wrapf(err, "SolveScenario failed to solve scenario %s", scen.Name)
	}

	if !soln.IsOptimal() {
		return nil, &SolveFailure{Scenario: scen.Name, Iteration: 0, Status: soln.Status}
	}

	return ExtractPlan(farm, scen, soln)
}

//==============================================================================
// PH COORDINATOR
//==============================================================================

// phRun holds the state the coordinator owns for the duration of one run.
// The weight vectors and the consensus are mutated only between iterations,
// never while scenario solves are in flight.
type phRun struct {
	farm    *FarmData
	scens   []Scenario
	solver  Solver
	ctrl    PhCtrl
	logger  *zap.Logger
	weights []map[string]float64 // Per-scenario linear weight vectors
	xbar    map[string]float64   // Consensus acreage per crop
}

// RunPh drives the progressive hedging loop over the scenario set. The
// initial solve of every scenario runs with both PH flags off; the
// probability-weighted average of the resulting acreage seeds the consensus
// plan and the weight vectors start at zero. Each following iteration
// solves every scenario with the penalty terms enabled per ctrl, then
// updates the consensus and the weights behind a strict barrier.
//
// The run converges when the largest deviation of any scenario's acreage
// from the consensus falls below the tolerance. Hitting the iteration cap
// is reported as PhMaxIterations in the result, with a nil error.
// In case of failure, function returns an error identifying the scenario
// and iteration concerned.
func RunPh(ctx context.Context, farm *FarmData, scens *ScenarioSet,
	solver Solver, ctrl PhCtrl) (*PhResult, error) {

	if solver == nil {
		return nil, errors.Errorf("RunPh requires a solver")
	}
	if scens == nil || scens.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidWeights, "RunPh received an empty scenario set")
	}
	if err := checkFarm(farm); err != nil {
		return nil, errors.Wrap(err, "RunPh rejected farm data")
	}

	// Rho drives both the weight update and the proximal penalty, so a bad
	// value is rejected up front rather than by whichever term reads it.
	for crop, rho := range ctrl.Rho {
		if rho < 0 || math.IsNaN(rho) {
			return nil, errors.Errorf("RunPh rejected rho %g for crop %s", rho, crop)
		}
	}

	if ctrl.ConvTol <= 0 {
		ctrl.ConvTol = DefaultConvTol
	}
	if ctrl.MaxIter <= 0 {
		ctrl.MaxIter = DefaultMaxIter
	}

	logger := ctrl.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	run := &phRun{
		farm:   farm,
		scens:  scens.Scenarios(),
		solver: solver,
		ctrl:   ctrl,
		logger: logger,
	}

	run.weights = make([]map[string]float64, len(run.scens))
	for i := 0; i < len(run.scens); i++ {
		run.weights[i] = make(map[string]float64)
		for _, crop := range farm.Crops {
			run.weights[i][crop] = 0.0
		}
	}

	// Initial solve: every scenario without PH terms seeds the consensus.

	plans, err := run.solveAll(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "RunPh failed on initial solve")
	}

	run.updateConsensus(plans)
	logger.Info("ph initial solve complete",
		zap.Int("scenarios", len(run.scens)),
		zap.Any("consensus", run.xbar))

	result := &PhResult{
		Status:    PhMaxIterations,
		Consensus: run.xbar,
		Plans:     plans,
	}

	for iter := 1; iter <= ctrl.MaxIter; iter++ {

		plans, err = run.solveAll(ctx, iter)
		if err != nil {
			return nil, errors.Wrapf(err, "RunPh failed on iteration %d", iter)
		}

		// Barrier reached: every scenario of this iteration is solved.
		// Consensus first, then weights, which read the new consensus.

		run.updateConsensus(plans)
		run.updateWeights(plans)

		maxDev := run.maxDeviation(plans)

		logger.Info("ph iteration complete",
			zap.Int("iteration", iter),
			zap.Float64("max_deviation", maxDev),
			zap.Any("consensus", run.xbar))

		result.Iterations = iter
		result.Consensus = run.xbar
		result.MaxDeviation = maxDev
		result.Plans = plans

		if maxDev < ctrl.ConvTol {
			result.Status = PhConverged
			return result, nil
		}
	}

	logger.Warn("ph did not converge",
		zap.Int("iterations", result.Iterations),
		zap.Float64("max_deviation", result.MaxDeviation))

	return result, nil
}

//==============================================================================
// COORDINATOR INTERNALS
//==============================================================================

// terms assembles the PH augmentation handed to the model builder for the
// scenario at the given index. The initial solve (iteration 0) runs the
// plain model.
func (run *phRun) terms(index int, iter int) *PhTerms {

	if iter == 0 {
		return nil
	}

	return &PhTerms{
		LinearActive:   run.ctrl.LinearActive,
		ProximalActive: run.ctrl.ProximalActive,
		Weight:         run.weights[index],
		Rho:            run.ctrl.Rho,
		Consensus:      run.xbar,
	}
}

// solveOne builds and solves the subproblem of one scenario for the given
// iteration. In case of failure, function returns an error.
func (run *phRun) solveOne(ctx context.Context, index int, iter int) (*DecisionPlan, error) {

	scen := &run.scens[index]

	model, err := BuildModel(run.farm, scen, run.terms(index, iter))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build scenario %s", scen.Name)
	}

	soln, err := solveWithRetry(ctx, run.solver, model, run.ctrl.SolveTimeout,
		run.ctrl.RetryLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scen.Name)
	}

	if !soln.IsOptimal() {
		return nil, &SolveFailure{Scenario: scen.Name, Iteration: iter, Status: soln.Status}
	}

	return ExtractPlan(run.farm, scen, soln)
}

// solveAll solves every scenario subproblem of one iteration, concurrently
// when the Parallel flag is set, and returns the plans in scenario order.
// In case of failure, function returns an error.
func (run *phRun) solveAll(ctx context.Context, iter int) ([]*DecisionPlan, error) {

	plans := make([]*DecisionPlan, len(run.scens))

	if run.ctrl.Parallel {
		group, groupCtx := errgroup.WithContext(ctx)
		for i := 0; i < len(run.scens); i++ {
			index := i
			group.Go(func() error {
				plan, err := run.solveOne(groupCtx, index, iter)
				if err != nil {
					return err
				}
				plans[index] = plan
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		return plans, nil
	}

	for i := 0; i < len(run.scens); i++ {
		plan, err := run.solveOne(ctx, i, iter)
		if err != nil {
			return nil, err
		}
		plans[i] = plan
	}

	return plans, nil
}

// updateConsensus replaces the consensus plan with the probability-weighted
// average of the acreage across all scenario plans.
func (run *phRun) updateConsensus(plans []*DecisionPlan) {

	xbar := make(map[string]float64)

	for _, crop := range run.farm.Crops {
		avg := 0.0
		for i := 0; i < len(plans); i++ {
			avg += run.scens[i].Prob * plans[i].Acres[crop]
		}
		xbar[crop] = avg
	}

	run.xbar = xbar
}

// updateWeights pushes each scenario's weight vector toward the consensus:
// w += rho * (acres - consensus), per crop. Crops without a configured rho
// keep their weight unchanged.
func (run *phRun) updateWeights(plans []*DecisionPlan) {

	for i := 0; i < len(plans); i++ {
		for _, crop := range run.farm.Crops {
			rho := run.ctrl.Rho[crop]
			if rho == 0.0 {
				continue
			}
			run.weights[i][crop] += rho * (plans[i].Acres[crop] - run.xbar[crop])
		}
	}
}

// maxDeviation returns the largest absolute deviation of any scenario's
// acreage from the consensus.
func (run *phRun) maxDeviation(plans []*DecisionPlan) float64 {
	var maxDev float64 // largest deviation found so far

	for i := 0; i < len(plans); i++ {
		for _, crop := range run.farm.Crops {
			dev := math.Abs(plans[i].Acres[crop] - run.xbar[crop])
			if dev > maxDev {
				maxDev = dev
			}
		}
	}

	return maxDev
}
