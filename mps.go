package spo

// mps: MPS output and the cplex executable back end.
//
// The CplexRun solver writes the model to an MPS file, generates a command
// file, instructs the cplex executable to run it, and parses the xml
// solution file that Cplex produces. Unlike the in-process gpx back end,
// this path accepts the quadratic objective of the PH proximal term (as a
// QUADOBJ section) and reports the infeasible and unbounded classifications
// that Cplex prints.

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// objRowName is the name of the objective row written to MPS files.
const objRowName = "NEGPROFIT"

//==============================================================================
// MPS OUTPUT
//==============================================================================

// WriteMps writes the model in MPS format to the writer provided. The
// objective constant is written as a negated RHS entry on the objective
// row, and the diagonal quadratic coefficients are written doubled in the
// QUADOBJ section to compensate for the 1/2 x'Qx convention Cplex applies
// when reading it. In case of failure, function returns an error.
func (m *Model) WriteMps(w io.Writer) error {

	if len(m.Rows) == 0 {
		return errors.Errorf("Model %s has no rows", m.Name)
	}
	if len(m.Cols) == 0 {
		return errors.Errorf("Model %s has no columns", m.Name)
	}

	fmt.Fprintf(w, "NAME          %s\n", m.Name)

	// ROWS section. The objective row comes first.

	fmt.Fprintf(w, "ROWS\n")
	fmt.Fprintf(w, " N  %s\n", objRowName)
	for i := 0; i < len(m.Rows); i++ {
		fmt.Fprintf(w, " %s  %s\n", m.Rows[i].Type, m.Rows[i].Name)
	}

	// COLUMNS section, grouped by column: the objective coefficient first,
	// then the constraint coefficients of that column.

	objByCol := make(map[int]float64)
	for i := 0; i < len(m.Obj); i++ {
		objByCol[m.Obj[i].InCol] = m.Obj[i].Value
	}

	elemsByCol := make(map[int][]InputElem)
	for i := 0; i < len(m.Elems); i++ {
		elemsByCol[m.Elems[i].InCol] = append(elemsByCol[m.Elems[i].InCol], m.Elems[i])
	}

	fmt.Fprintf(w, "COLUMNS\n")
	for i := 0; i < len(m.Cols); i++ {
		name := m.Cols[i].Name
		if value, ok := objByCol[i]; ok {
			fmt.Fprintf(w, "    %-20s  %-20s  %.12g\n", name, objRowName, value)
		}
		for _, elem := range elemsByCol[i] {
			fmt.Fprintf(w, "    %-20s  %-20s  %.12g\n", name, m.Rows[elem.InRow].Name, elem.Value)
		}
	}

	// RHS section. A non-zero entry on the objective row carries the
	// negated objective constant.

	fmt.Fprintf(w, "RHS\n")
	if m.ObjConst != 0.0 {
		fmt.Fprintf(w, "    %-20s  %-20s  %.12g\n", "RHS1", objRowName, -m.ObjConst)
	}
	for i := 0; i < len(m.Rows); i++ {
		if m.Rows[i].Rhs != 0.0 {
			fmt.Fprintf(w, "    %-20s  %-20s  %.12g\n", "RHS1", m.Rows[i].Name, m.Rows[i].Rhs)
		}
	}

	// BOUNDS section. The MPS default is a zero lower bound and an
	// infinite upper bound, so only deviations are written.

	fmt.Fprintf(w, "BOUNDS\n")
	for i := 0; i < len(m.Cols); i++ {
		if m.Cols[i].BndLo != 0.0 {
			fmt.Fprintf(w, " LO %-12s  %-20s  %.12g\n", "BND1", m.Cols[i].Name, m.Cols[i].BndLo)
		}
		if m.Cols[i].BndUp < Plinfy {
			fmt.Fprintf(w, " UP %-12s  %-20s  %.12g\n", "BND1", m.Cols[i].Name, m.Cols[i].BndUp)
		}
	}

	// QUADOBJ section, only present for PH subproblems with an active
	// proximal term.

	if len(m.QuadObj) > 0 {
		fmt.Fprintf(w, "QUADOBJ\n")
		for i := 0; i < len(m.QuadObj); i++ {
			name := m.Cols[m.QuadObj[i].InCol].Name
			fmt.Fprintf(w, "    %-20s  %-20s  %.12g\n", name, name, 2.0*m.QuadObj[i].Value)
		}
	}

	fmt.Fprintf(w, "ENDATA\n")

	return nil
}

// WriteMpsFile writes the model in MPS format to the file specified,
// overwriting any existing file. In case of failure, function returns
// an error.
func (m *Model) WriteMpsFile(fileName string) error {

	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "Failed to create new file %s", fileName)
	}
	defer f.Close()

	if err = m.WriteMps(f); err != nil {
		return errors.Wrapf(err, "Failed to write model to %s", fileName)
	}

	return nil
}

//==============================================================================
// CPLEX XML SOLUTION
//==============================================================================

// CplexSoln stores the solution obtained by parsing the xml solution file
// produced by Cplex.
type CplexSoln struct {
	XMLName xml.Name `xml:"CPLEXSolution"`
	Version string   `xml:"version,attr"`
	Header  struct {
		ProblemName     string  `xml:"problemName,attr"`
		ObjValue        float64 `xml:"objectiveValue,attr"`
		SolTypeValue    int     `xml:"solutionTypeValue,attr"`
		SolTypeString   string  `xml:"solutionTypeString,attr"`
		SolStatusValue  int     `xml:"solutionStatusValue,attr"`
		SolStatusString string  `xml:"solutionStatusString,attr"`
		SolMethodString string  `xml:"solutionMethodString,attr"`
		PrimalFeasible  int     `xml:"primalFeasible,attr"`
		DualFeasible    int     `xml:"dualFeasible,attr"`
		SimplexItns     int     `xml:"simplexIterations,attr"`
		BarrierItns     int     `xml:"barrierIterations,attr"`
		WriteLevel      int     `xml:"writeLevel,attr"`
	} `xml:"header"`
	LinCons []struct {
		Name  string  `xml:"name,attr"`
		Index int     `xml:"index,attr"`
		Slack float64 `xml:"slack,attr"`
		Pi    float64 `xml:"dual,attr"`
	} `xml:"linearConstraints>constraint"`
	Varbs []struct {
		Name    string  `xml:"name,attr"`
		Index   int     `xml:"index,attr"`
		Value   float64 `xml:"value,attr"`
		RedCost float64 `xml:"reducedCost,attr"`
	} `xml:"variables>variable"`
}

// CplexParseSoln takes as input the location of the file storing the raw
// output generated by Cplex, parses it, and returns the parsed solution to
// the caller in the soln variable.
// In case of failure, function returns an error.
func CplexParseSoln(fileName string, soln *CplexSoln) error {

	*soln = CplexSoln{}

	xmlData, err := os.ReadFile(fileName)
	if err != nil {
		return errors.Wrap(err, "Unable to open cplex solution file")
	}

	if err = xml.Unmarshal(xmlData, soln); err != nil {
		return errors.Wrap(err, "Unable to parse cplex solution file")
	}

	return nil
}

// statusFromCplex maps the solution status codes Cplex writes into the xml
// header onto the solver adapter statuses. Code 1 is the LP/QP optimum,
// codes 101 and 102 the MIP optimum and optimum within tolerance.
func statusFromCplex(statusValue int) SolveStatus {
	switch statusValue {
	case 1, 101, 102:
		return StatusOptimal
	case 2, 118:
		return StatusUnbounded
	case 3, 103:
		return StatusInfeasible
	}
	return StatusSolverError
}

//==============================================================================
// CPLEX EXECUTABLE BACK END
//==============================================================================

// CplexRun solves models by writing them to an MPS file and driving the
// cplex command line executable. This back end accepts quadratic
// objectives and honors context cancellation by killing the solver
// process.
type CplexRun struct {
	// Command is the cplex executable to run, "cplex" if empty.
	Command string

	// WorkDir is where the per-solve scratch directory is created; the
	// system default temporary directory if empty.
	WorkDir string

	// KeepFiles prevents removal of the scratch directory after the
	// solve, for debugging.
	KeepFiles bool
}

// CplexSolveMps instructs the cplex executable to solve the problem defined
// in the MPS file specified. The function generates a command file telling
// Cplex to read the model, optimize, and write the solution to solnFile in
// xml form, then runs Cplex and parses that file into soln. The cmdFile
// argument names the command file to generate.
// In case of failure, function returns an error.
func CplexSolveMps(ctx context.Context, command string, mpsFile string,
	solnFile string, cmdFile string, soln *CplexSoln) error {
	var bigString string // holder for processing stdout text generated by Cplex
	var strStart  int    // return value from strings.Index used in parsing stdout

	*soln = CplexSoln{}

	if command == "" {
		command = "cplex"
	}

	// Check whether the output file exists. If it exists, remove it so a
	// stale solution can never be mistaken for this run's result.
	if _, err := os.Stat(solnFile); err == nil {
		if err = os.Remove(solnFile); err != nil {
			return errors.Wrap(err, "CplexSolveMps failed to remove solution file")
		}
	}

	// Create the command file.
	f, err := os.Create(cmdFile)
	if err != nil {
		return errors.Wrap(err, "CplexSolveMps failed to create command file")
	}

	fmt.Fprintln(f, "read", mpsFile, "mps") // command to read the MPS file
	fmt.Fprintln(f, "optimize")             // optimize command
	fmt.Fprintln(f, "write", solnFile, "sol") // write the soln file
	f.Close()

	out, err := exec.CommandContext(ctx, command, "-f", cmdFile).Output()
	bigString = string(out)

	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "Cplex terminated by context in CplexSolveMps")
	}

	// Cplex exits zero even for infeasible models; a run failure here
	// means the executable itself could not run or crashed.
	if err != nil {
		return errors.Wrap(err, "Exec command for Cplex failed in CplexSolveMps")
	}

	// Check if this version of cplex can handle the problem.
	if strings.Contains(bigString, "1016: Promotional version") {
		return errors.New("Problem too large for promotional version")
	}

	strStart = strings.Index(bigString, "CPLEX Error")
	if strStart >= 0 {
		end := strStart + 60
		if end > len(bigString) {
			end = len(bigString)
		}
		return errors.New(bigString[strStart:end])
	}

	// Cplex writes no solution file for a model it proved infeasible or
	// unbounded; classify from the log text in that case.
	if _, err = os.Stat(solnFile); err != nil {
		switch {
		case strings.Contains(bigString, "Infeasible"),
			strings.Contains(bigString, "infeasible"):
			soln.Header.SolStatusValue = 3
			soln.Header.SolStatusString = "infeasible"
			return nil
		case strings.Contains(bigString, "Unbounded"),
			strings.Contains(bigString, "unbounded"):
			soln.Header.SolStatusValue = 2
			soln.Header.SolStatusString = "unbounded"
			return nil
		}
		return errors.Errorf("Cplex produced no solution file for %s", mpsFile)
	}

	if err = CplexParseSoln(solnFile, soln); err != nil {
		return errors.Wrap(err, "CplexSolveMps failed")
	}

	return nil
}

// Solve satisfies the Solver interface. The model is written to a scratch
// directory, solved by the cplex executable, and the parsed xml solution is
// translated to the adapter contract. In case of failure, function returns
// an error.
func (cr *CplexRun) Solve(ctx context.Context, model *Model) (*Solution, error) {
	var cpSoln CplexSoln // parsed Cplex solution

	workDir, err := os.MkdirTemp(cr.WorkDir, "spo")
	if err != nil {
		return nil, errors.Wrap(err, "CplexRun failed to create scratch directory")
	}
	if !cr.KeepFiles {
		defer os.RemoveAll(workDir)
	}

	mpsFile := filepath.Join(workDir, "model.mps")
	solnFile := filepath.Join(workDir, "solution.sol")
	cmdFile := filepath.Join(workDir, "cpxCommands.txt")

	if err = model.WriteMpsFile(mpsFile); err != nil {
		return nil, errors.Wrapf(err, "CplexRun failed to write model %s", model.Name)
	}

	if err = CplexSolveMps(ctx, cr.Command, mpsFile, solnFile, cmdFile, &cpSoln); err != nil {
		return nil, errors.Wrapf(err, "CplexRun failed to solve model %s", model.Name)
	}

	soln := &Solution{
		Status: statusFromCplex(cpSoln.Header.SolStatusValue),
		ObjVal: cpSoln.Header.ObjValue,
		VarMap: make(map[string]float64),
	}

	for i := 0; i < len(cpSoln.Varbs); i++ {
		soln.VarMap[cpSoln.Varbs[i].Name] = cpSoln.Varbs[i].Value
	}

	return soln, nil
}
