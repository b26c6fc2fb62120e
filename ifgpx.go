// ifgpx: Interface functions for GPX.

// Any function which makes use of the gpx package is in this file.
// This makes the other spo files independent of gpx. If gpx is not
// installed, this file must be excluded from the build to avoid
// compilation errors; the CplexRun back end (mps.go) covers the same
// ground through the cplex executable.

package spo

import (
	"context"
	"errors"
	"sync"

	"github.com/go-opt/gpx"
	pkgerrors "github.com/pkg/errors"
)

// ErrQuadUnsupported reports a model whose quadratic objective terms the
// gpx back end cannot accept. The gpx package wraps the Cplex LP and MIP
// entry points only; PH subproblems with an active proximal term need the
// CplexRun back end or another QP-capable solver.
var ErrQuadUnsupported = errors.New("quadratic objective not supported by gpx back end")

// CplexGpx solves linear models in process through the gpx wrappers around
// the Cplex callable library.
type CplexGpx struct {
	// OutputToScreen controls whether Cplex prints its progress log.
	OutputToScreen bool

	// FileOutSoln, if set, receives the Cplex solution in xml form
	// after every successful solve.
	FileOutSoln string

	// The Cplex environment managed by gpx is a process-wide singleton,
	// so concurrent solves must take turns.
	mu sync.Mutex
}

//==============================================================================
// TRANSLATION TO GPX
//==============================================================================

// transToGpx translates a model to the gpx data structures which are in
// turn translated to the internal C data structures passed to Cplex.
// In case of failure, function returns an error.
func transToGpx(model *Model, gRows *[]gpx.InputRow, gCols *[]gpx.InputCol,
	gElem *[]gpx.InputElem, gObj *[]gpx.InputObjCoef) error {

	var rowItem  gpx.InputRow     // row item used in constructing gRows list
	var colItem  gpx.InputCol     // col item used in constructing gCols list
	var elemItem gpx.InputElem    // elem item used in constructing gElem list
	var objItem  gpx.InputObjCoef // item used in constructing obj. func. coefficients

	// Initialize lists that will be returned.
	*gRows = nil
	*gCols = nil
	*gElem = nil
	*gObj = nil

	// Problem needs to have some rows.
	if len(model.Rows) == 0 {
		return pkgerrors.Errorf("Input list of rows is empty")
	}

	// Problem needs to have some columns.
	if len(model.Cols) == 0 {
		return pkgerrors.Errorf("Input list of columns is empty")
	}

	// Problem needs to have some elements.
	if len(model.Elems) == 0 {
		return pkgerrors.Errorf("Input list of elements is empty")
	}

	// Translate the columns data structure. All spo variables are
	// continuous, which maps to type "C" for Cplex.
	for i := 0; i < len(model.Cols); i++ {
		colItem.Name = model.Cols[i].Name
		colItem.Type = "C"
		colItem.BndLo = model.Cols[i].BndLo
		colItem.BndUp = model.Cols[i].BndUp
		*gCols = append(*gCols, colItem)
	}

	// Translate the rows data structure. The objective function is kept
	// separately in the model and handled below, because that's how Cplex
	// expects it.
	for i := 0; i < len(model.Rows); i++ {

		rowItem.Name = model.Rows[i].Name
		rowItem.Sense = model.Rows[i].Type
		rowItem.Rhs = model.Rows[i].Rhs
		rowItem.RngVal = 0.0

		switch model.Rows[i].Type {
		case RowLE, RowGE, RowEQ:
			// Accepted as is.
		default:
			return pkgerrors.Errorf("Unexpected type %s in row %s",
				model.Rows[i].Type, model.Rows[i].Name)
		} // End switch on row type

		*gRows = append(*gRows, rowItem)

		for j := 0; j < len(model.Rows[i].HasElems); j++ {
			elem := model.Elems[model.Rows[i].HasElems[j]]
			elemItem.RowIndex = i
			elemItem.ColIndex = elem.InCol
			elemItem.Value = elem.Value
			*gElem = append(*gElem, elemItem)
		}
	} // End for all rows

	// Translate the objective function coefficients.
	for i := 0; i < len(model.Obj); i++ {
		objItem.ColIndex = model.Obj[i].InCol
		objItem.Value = model.Obj[i].Value
		*gObj = append(*gObj, objItem)
	}

	return nil
}

//==============================================================================
// SOLVER INTERFACE
//==============================================================================

// Solve satisfies the Solver interface. It initializes the Cplex
// environment, translates the model through gpx, optimizes it as an LP,
// and returns the primal solution with variable values indexed by name.
//
// The Cplex callable library offers no cancellation hook, so ctx is only
// consulted before the solve starts. A gpx failure during optimization is
// returned as an adapter error; classification of infeasible and unbounded
// models is the province of the CplexRun back end, which reads the status
// the cplex executable reports. Because gpx exposes no status query, an
// infeasible model also surfaces here as an adapter error, and a caller
// with a retry wrapper will re-solve it before giving up.
//
// In case of failure, function returns an error.
func (cg *CplexGpx) Solve(ctx context.Context, model *Model) (*Solution, error) {
	var gRows []gpx.InputRow     // rows data structure, excluding the objective function
	var gCols []gpx.InputCol     // cols data structure
	var gElem []gpx.InputElem    // non-zero elements present in the rows structure
	var gObj  []gpx.InputObjCoef // non-zero elements in the objective function
	var sRows []gpx.SolnRow      // solved constraints returned by Cplex via gpx
	var sCols []gpx.SolnCol      // solved variables returned by Cplex via gpx
	var objVal float64           // value of the objective function returned by Cplex
	var err    error             // error returned by secondary functions called

	if model.IsQuadratic() {
		return nil, pkgerrors.Wrapf(ErrQuadUnsupported, "model %s", model.Name)
	}

	if err = ctx.Err(); err != nil {
		return nil, pkgerrors.Wrapf(err, "solve of %s not started", model.Name)
	}

	cg.mu.Lock()
	defer cg.mu.Unlock()

	// Initialize the Cplex environment and assign the problem name.
	if err = gpx.CreateProb(model.Name); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to create problem")
	}

	if cg.OutputToScreen {
		if err = gpx.OutputToScreen(true); err != nil {
			return nil, pkgerrors.Wrap(err, "CplexGpx failed to set output to screen")
		}
	}

	// Translate from the model data structures to the gpx data structures.
	if err = transToGpx(model, &gRows, &gCols, &gElem, &gObj); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to translate to gpx data structures")
	}

	// Populate the rows of the problem.
	if err = gpx.NewRows(gRows); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to create rows")
	}

	// Populate the columns and objective function of the problem.
	if err = gpx.NewCols(gObj, gCols); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to create columns")
	}

	// Change the coefficients of the problem to their non-zero values.
	if err = gpx.ChgCoefList(gElem); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to create elements")
	}

	// This is an LP, so use the CPX functions for LP.
	if err = gpx.LpOpt(); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to optimize LP")
	}

	if err = gpx.GetSolution(&objVal, &sRows, &sCols); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to get solution")
	}

	// Write the Cplex solution to xml file if requested.
	if cg.FileOutSoln != "" {
		if err = gpx.SolWrite(cg.FileOutSoln); err != nil {
			return nil, pkgerrors.Wrap(err, "CplexGpx failed to write solution to file")
		}
	}

	// Close and clean up Cplex.
	if err = gpx.CloseCplex(); err != nil {
		return nil, pkgerrors.Wrap(err, "CplexGpx failed to close cplex")
	}

	soln := &Solution{
		Status: StatusOptimal,
		ObjVal: objVal + model.ObjConst,
		VarMap: make(map[string]float64),
	}

	for i := 0; i < len(sCols); i++ {
		soln.VarMap[sCols[i].Name] = sCols[i].Value
	}

	return soln, nil
}
