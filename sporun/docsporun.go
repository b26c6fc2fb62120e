/*

Executable provides examples of spo use for the bundled farmer problem.

SUMMARY

This executable demonstrates how the spo package can be used to build and
solve the two-stage stochastic farmer problem via Cplex, either as a plain
deterministic model for one scenario, or as a full progressive hedging (PH)
run over the scenario set.

The available subcommands are:

	solve  - build one scenario's model without PH terms and solve it
	ph     - drive the progressive hedging loop over all scenarios
	print  - load the problem and show per-scenario model statistics

All subcommands read the problem from a YAML file given with --config; when
the flag is omitted, the built-in textbook data set (500 acres, wheat, corn,
and sugar beets over three yield scenarios) is used.

The --solver flag selects the Cplex back end: "exec" (the default) writes
an MPS file and drives the cplex executable, which handles the quadratic PH
proximal term; "gpx" solves linear models in process through the Cplex
callable library.

EXAMPLES

Solve the average scenario deterministically:

	sporun solve --scenario AverageScenario

Run PH over the textbook scenarios with both penalty terms active:

	sporun ph --linear --proximal --rho 1.0 --verbose

*/
package main
