package spo

// solver: The boundary between the model and the external solver.
//
// The package never inspects a solver beyond this contract: a model goes
// in, variable values indexed by name and an objective value come out, or a
// status explaining why not. Infeasible and unbounded are modeling
// outcomes, carried in the Solution status; adapter failures (a crashed or
// timed-out solver process) come back as errors and are retried by
// solveWithRetry since they may be transient.

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SolveStatus describes the outcome of one solve.
type SolveStatus int

const (
	// StatusOptimal means the solver proved an optimal solution.
	StatusOptimal SolveStatus = iota

	// StatusInfeasible means the model has no feasible point.
	StatusInfeasible

	// StatusUnbounded means the objective is unbounded below.
	StatusUnbounded

	// StatusSolverError means the solver failed without classifying the
	// model, for example on a timeout or a numerical failure.
	StatusSolverError
)

// String returns the printable name of the status.
func (s SolveStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusSolverError:
		return "solver-error"
	}
	return "unknown"
}

// Solution holds the result of one solve. VarMap carries the primal value
// of every variable, indexed by column name, in double precision. VarMap
// and ObjVal are only meaningful when the status is optimal.
type Solution struct {
	Status SolveStatus        // Outcome of the solve
	ObjVal float64            // Objective value at the solution
	VarMap map[string]float64 // Variable values indexed by name
}

// IsOptimal reports whether the solution is optimal.
func (s *Solution) IsOptimal() bool {
	return s.Status == StatusOptimal
}

// IsInfeasible reports whether the solver proved the model infeasible.
func (s *Solution) IsInfeasible() bool {
	return s.Status == StatusInfeasible
}

// IsUnbounded reports whether the solver proved the model unbounded.
func (s *Solution) IsUnbounded() bool {
	return s.Status == StatusUnbounded
}

// Solver is the contract an external solver must satisfy. Solve blocks for
// the solver runtime; implementations honor ctx cancellation where their
// back end permits it. A non-optimal classification (infeasible, unbounded)
// is returned as a Solution with that status and a nil error; an error
// return means the adapter itself failed.
type Solver interface {
	Solve(ctx context.Context, model *Model) (*Solution, error)
}

// solveWithRetry runs one solve with an optional per-solve timeout and
// retries adapter failures up to retryLimit times with the same inputs. A
// solver-error status counts as an adapter failure whether it arrives as an
// error or as a Solution status. Infeasible and unbounded outcomes are never
// retried; they are modeling errors, not transient ones.
// In case of failure, function returns an error.
func solveWithRetry(ctx context.Context, solver Solver, model *Model,
	timeout time.Duration, retryLimit int) (*Solution, error) {
	var soln *Solution // solution from the most recent attempt
	var err error      // error from the most recent attempt

	if retryLimit < 0 {
		retryLimit = 0
	}

	for attempt := 0; attempt <= retryLimit; attempt++ {

		solveCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			solveCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		soln, err = solver.Solve(solveCtx, model)
		if cancel != nil {
			cancel()
		}

		// Some back ends report an unclassified failure as a status with a
		// nil error; it gets the same retry treatment either way.
		if err == nil && soln != nil && soln.Status == StatusSolverError {
			err = errors.Errorf("solver reported status %s", soln.Status)
		}

		if err == nil {
			return soln, nil
		}

		// Give up early when the caller's own context is done; retrying
		// cannot succeed and only delays the report.
		if ctx.Err() != nil {
			return nil, errors.Wrapf(err, "solve of %s canceled", model.Name)
		}
	}

	return nil, errors.Wrapf(err, "solve of %s failed after %d attempts",
		model.Name, retryLimit+1)
}
