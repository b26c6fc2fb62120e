// 01   Mar.  14, 2026   Initial version
// 02   May   02, 2026   Added exec solver back end and PH controls

/*
Package spo ("stochastic programming object") provides Go language tools for
building and solving two-stage stochastic linear and quadratic programs by
scenario decomposition. The package implements the classic Farmer's Problem:
land is allocated among crops before the crop yield is known, and once the
yield is realized the shortfall is purchased and the surplus sold, with the
sugar beet market split into a favourable in-quota price and a depressed
over-quota price.

Some of the main functions include:
  - ability to create scenario models directly, or load them from a YAML
    problem file
  - building the per-scenario model, with or without progressive hedging
    penalty terms
  - evaluating constraints and objective at a point
  - solving models via the Cplex solver
  - driving the progressive hedging (PH) loop over a finite scenario set

The separate Go language package gpx ("go-Cplex") is used by spo to interact
with the Cplex solver in process. Package gpx provides Go language wrappers
for several of the most useful functions in the Cplex C language callable
library. A second back end writes the model in MPS format and drives the
cplex command line executable, which also accepts the quadratic objective
produced by the PH proximal term.

Model Building

A model is created from a FarmData parameter set and one Scenario holding
that scenario's yield vector. The builder produces a self-contained Model
(sparse rows, columns, and non-zero elements) which is passed to a Solver.
The same builder serves both the plain deterministic problem and the
PH subproblems; the PH linear and proximal terms are controlled by two
independent flags and are simply left out when both flags are off.

	farm  := spo.TextbookFarm()
	scens := spo.TextbookScenarios()
	model, err := spo.BuildModel(farm, &scens[1], nil)
	if err != nil {
		...
	}

Progressive Hedging

RunPh drives the scenario decomposition: every scenario subproblem is solved
independently (optionally in parallel), the probability-weighted average of
the first-stage acreage becomes the consensus plan, and each scenario's
weight vector is pushed toward that consensus. The loop ends when all
scenarios agree with the consensus within a tolerance, or when the iteration
cap is reached. Reaching the cap is a reported status, not an error.

	ctrl := spo.PhCtrl{
		LinearActive:   true,
		ProximalActive: true,
		Rho:            map[string]float64{"WHEAT": 1.0, "CORN": 1.0, "SUGAR_BEETS": 1.0},
	}
	result, err := spo.RunPh(ctx, farm, scenSet, solver, ctrl)

Interacting with Cplex

Models can be passed to Cplex in two ways:

  - Once a model is created in spo, a CplexGpx solver transfers it through
    gpx into Cplex and solves it with the callable library. This back end
    handles linear models only.
  - A CplexRun solver writes the model to an MPS file (including a QUADOBJ
    section when PH proximal terms are present), instructs the cplex
    executable to solve it, and parses the xml solution file it produces.

Users may also supply any other solver satisfying the Solver interface;
the PH coordinator never inspects the solver beyond that contract.

Tutorial and Function Exerciser

The executable provided with the package (sporun) loads a problem file and
exposes the deterministic solve, the PH run, and a model statistics dump as
subcommands.
*/
package spo
