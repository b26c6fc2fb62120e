// sporun: Executable for running the spo farmer problem.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-opt/spo"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Command line flags shared by the subcommands.
var (
	configFile string // problem file, empty for the built-in textbook data
	solverName string // back end selection, "exec" or "gpx"
	verbose    bool   // controls debug logging
)

// Flags specific to individual subcommands.
var (
	scenarioName string  // scenario to solve deterministically
	phLinear     bool    // activate the PH linear weight term
	phProximal   bool    // activate the PH proximal term
	phRho        float64 // uniform rho applied to every crop
	phParallel   bool    // solve scenario subproblems concurrently
	phMaxIter    int     // iteration cap override
	phTol        float64 // convergence tolerance override
)

func main() {
	root := &cobra.Command{
		Use:           "sporun",
		Short:         "Build and solve the stochastic farmer problem",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "",
		"YAML problem file (built-in textbook data if omitted)")
	root.PersistentFlags().StringVar(&solverName, "solver", "exec",
		"Cplex back end: exec or gpx")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"enable debug logging")

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve one scenario's model without PH terms",
		RunE:  runSolve,
	}
	solveCmd.Flags().StringVar(&scenarioName, "scenario", "AverageScenario",
		"scenario to solve")

	phCmd := &cobra.Command{
		Use:   "ph",
		Short: "Run the progressive hedging loop over all scenarios",
		RunE:  runPh,
	}
	phCmd.Flags().BoolVar(&phLinear, "linear", false, "activate the linear weight term")
	phCmd.Flags().BoolVar(&phProximal, "proximal", false, "activate the proximal term")
	phCmd.Flags().Float64Var(&phRho, "rho", 0.0, "uniform rho for every crop")
	phCmd.Flags().BoolVar(&phParallel, "parallel", false, "solve scenarios concurrently")
	phCmd.Flags().IntVar(&phMaxIter, "max-iter", 0, "iteration cap (0 for default)")
	phCmd.Flags().Float64Var(&phTol, "tol", 0.0, "convergence tolerance (0 for default)")

	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Show per-scenario model statistics",
		RunE:  runPrint,
	}

	root.AddCommand(solveCmd, phCmd, printCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sporun: %v\n", err)
		os.Exit(1)
	}
}

//==============================================================================
// SETUP HELPERS
//==============================================================================

// newLogger builds the logger used by the PH coordinator and the
// subcommands. In case of failure, function returns an error.
func newLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return config.Build()
}

// loadProblem returns the problem from the configured file, or the built-in
// textbook data set when no file was given.
// In case of failure, function returns an error.
func loadProblem() (*spo.Problem, error) {

	if configFile != "" {
		return spo.LoadProblem(configFile)
	}

	scens, err := spo.NewScenarioSet(spo.TextbookScenarios())
	if err != nil {
		return nil, err
	}

	return &spo.Problem{
		Name:  "farmer",
		Farm:  spo.TextbookFarm(),
		Scens: scens,
	}, nil
}

// newSolver returns the Cplex back end selected on the command line.
// In case of failure, function returns an error.
func newSolver() (spo.Solver, error) {
	switch solverName {
	case "exec":
		return &spo.CplexRun{}, nil
	case "gpx":
		return &spo.CplexGpx{OutputToScreen: verbose}, nil
	}
	return nil, errors.Errorf("unknown solver %q (want exec or gpx)", solverName)
}

// printPlan displays the decision variables of one scenario plan in a
// formatted manner.
func printPlan(farm *spo.FarmData, plan *spo.DecisionPlan) {

	fmt.Printf("\nScenario %s, objective (negated profit) = %.2f\n\n", plan.Scenario, plan.ObjVal)
	fmt.Printf("%-14s %12s %12s %12s %12s %12s\n",
		"CROP", "ACRES", "TONS", "BUY", "SELL", "SELL OVER")

	for _, crop := range farm.Crops {
		fmt.Printf("%-14s %12.2f %12.2f %12.2f %12.2f %12.2f\n",
			crop, plan.Acres[crop], plan.Tons[crop], plan.Purchased[crop],
			plan.SoldSub[crop], plan.SoldSuper[crop])
	}
}

//==============================================================================
// SUBCOMMANDS
//==============================================================================

// runSolve builds and solves one scenario's plain model.
// In case of failure, function returns an error.
func runSolve(cmd *cobra.Command, args []string) error {

	problem, err := loadProblem()
	if err != nil {
		return err
	}

	scen, err := problem.Scens.Lookup(scenarioName)
	if err != nil {
		return err
	}

	solver, err := newSolver()
	if err != nil {
		return err
	}

	plan, err := spo.SolveScenario(context.Background(), problem.Farm, scen, solver)
	if err != nil {
		return err
	}

	printPlan(problem.Farm, plan)

	return nil
}

// runPh drives the progressive hedging loop.
// In case of failure, function returns an error.
func runPh(cmd *cobra.Command, args []string) error {

	problem, err := loadProblem()
	if err != nil {
		return err
	}

	solver, err := newSolver()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctrl := problem.Ctrl
	ctrl.Logger = logger

	// Command line flags override the problem file.
	if phLinear {
		ctrl.LinearActive = true
	}
	if phProximal {
		ctrl.ProximalActive = true
	}
	if phRho > 0 {
		ctrl.Rho = make(map[string]float64)
		for _, crop := range problem.Farm.Crops {
			ctrl.Rho[crop] = phRho
		}
	}
	if phParallel {
		ctrl.Parallel = true
	}
	if phMaxIter > 0 {
		ctrl.MaxIter = phMaxIter
	}
	if phTol > 0 {
		ctrl.ConvTol = phTol
	}

	result, err := spo.RunPh(context.Background(), problem.Farm, problem.Scens, solver, ctrl)
	if err != nil {
		return err
	}

	fmt.Printf("\nPH finished: status=%s iterations=%d max deviation=%g\n",
		result.Status, result.Iterations, result.MaxDeviation)

	fmt.Printf("\nConsensus acreage:\n")
	for _, crop := range problem.Farm.Crops {
		fmt.Printf("   %-14s %12.2f\n", crop, result.Consensus[crop])
	}

	for _, plan := range result.Plans {
		printPlan(problem.Farm, plan)
	}

	return nil
}

// runPrint loads the problem and shows the model statistics of every
// scenario subproblem. In case of failure, function returns an error.
func runPrint(cmd *cobra.Command, args []string) error {
	var stats spo.Statistics // statistics of the model being processed

	problem, err := loadProblem()
	if err != nil {
		return err
	}

	fmt.Printf("Problem %s: %d crops, %d scenarios, %g acres\n",
		problem.Name, len(problem.Farm.Crops), problem.Scens.Len(),
		problem.Farm.AvailLand)

	for i := range problem.Scens.Scenarios() {
		scen := &problem.Scens.Scenarios()[i]

		model, err := spo.BuildModel(problem.Farm, scen, nil)
		if err != nil {
			return err
		}

		model.GetStatistics(&stats)
		fmt.Printf("   %-24s prob=%.4f rows=%d cols=%d elems=%d\n",
			scen.Name, scen.Prob, stats.NumRows, stats.NumCols, stats.NumElems)
	}

	return nil
}
