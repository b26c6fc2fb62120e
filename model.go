package spo

// model: Core model data structures and evaluation functions.
//
// The model is stored as sparse lists of rows, columns, and non-zero
// elements, in the same shape the solver back ends consume. The objective
// function is kept as a separate coefficient list rather than as a row so
// that the quadratic PH terms and the objective constant have an obvious
// home. Each model is a self-contained struct; scenario subproblems built
// for one PH iteration share nothing and may be solved concurrently.

import (
	"github.com/pkg/errors"
)

// Plinfy is the value treated as "plus infinity" for bounds and right-hand
// sides. Anything at or beyond this magnitude is translated to an infinite
// bound when the model is handed to a solver.
const Plinfy = 1.0e+20

// Row types recognized by the model. The single-letter convention matches
// the MPS format and the Cplex row senses.
const (
	RowLE = "L" // less than or equal
	RowGE = "G" // greater than or equal
	RowEQ = "E" // equality
)

// InputRow defines one constraint of the model. The HasElems list contains
// indices into the Elems list of the owning Model for the non-zero
// coefficients of this row.
type InputRow struct {
	Name     string  // Row name, unique within the model
	Type     string  // Row type ("L", "G", or "E")
	Rhs      float64 // Right-hand side value
	HasElems []int   // Indices of the non-zero elements in this row
}

// InputCol defines one variable of the model. All variables are continuous;
// integrality is outside the scope of this package.
type InputCol struct {
	Name  string  // Column name, unique within the model
	BndLo float64 // Lower bound, typically 0
	BndUp float64 // Upper bound, Plinfy if unbounded above
}

// InputElem defines one non-zero coefficient of the constraint matrix.
type InputElem struct {
	InRow int     // Index of the row containing this element
	InCol int     // Index of the column containing this element
	Value float64 // Value of the coefficient
}

// ObjCoef defines one linear coefficient of the objective function.
type ObjCoef struct {
	InCol int     // Index of the column this coefficient applies to
	Value float64 // Value of the coefficient
}

// QuadCoef defines one diagonal quadratic term of the objective function,
// contributing Value * x * x for the column it references. Off-diagonal
// terms never arise here; the PH proximal penalty is separable by crop.
type QuadCoef struct {
	InCol int     // Index of the column this coefficient applies to
	Value float64 // Coefficient of the squared variable
}

// Model holds one complete problem instance: the variables, the constraint
// matrix in sparse form, and the objective. The objective is always
// minimized ("negprofit" for the farmer models built by this package).
type Model struct {
	Name     string      // Problem name
	Rows     []InputRow  // Constraint list
	Cols     []InputCol  // Variable list
	Elems    []InputElem // Non-zero constraint coefficients
	Obj      []ObjCoef   // Linear objective coefficients
	QuadObj  []QuadCoef  // Diagonal quadratic objective coefficients
	ObjConst float64     // Constant added to the objective value

	colIndex map[string]int // Column name to index lookup
	rowIndex map[string]int // Row name to index lookup
}

// Statistics summarizes the size of a model. It mirrors what the solver
// back ends report when they load the problem.
type Statistics struct {
	Name     string // Problem name
	NumRows  int    // Number of constraints
	NumCols  int    // Number of variables
	NumElems int    // Number of non-zero constraint coefficients
	NumQuad  int    // Number of quadratic objective terms
}

//==============================================================================
// MODEL CONSTRUCTION
//==============================================================================

// NewModel returns an empty model with the name provided.
func NewModel(name string) *Model {
	return &Model{
		Name:     name,
		colIndex: make(map[string]int),
		rowIndex: make(map[string]int),
	}
}

// AddCol adds a variable with the given bounds to the model and returns its
// index. In case of failure, function returns an error.
func (m *Model) AddCol(name string, bndLo float64, bndUp float64) (int, error) {

	if name == "" {
		return -1, errors.Errorf("Column name may not be empty")
	}

	if _, ok := m.colIndex[name]; ok {
		return -1, errors.Errorf("Duplicate column %s", name)
	}

	if bndLo > bndUp {
		return -1, errors.Errorf("Column %s has lower bound %g above upper bound %g",
			name, bndLo, bndUp)
	}

	m.Cols = append(m.Cols, InputCol{Name: name, BndLo: bndLo, BndUp: bndUp})
	m.colIndex[name] = len(m.Cols) - 1

	return len(m.Cols) - 1, nil
}

// AddRow adds a constraint of the given type and right-hand side to the
// model and returns its index. Coefficients are attached separately via
// AddElem. In case of failure, function returns an error.
func (m *Model) AddRow(name string, rowType string, rhs float64) (int, error) {

	if name == "" {
		return -1, errors.Errorf("Row name may not be empty")
	}

	if _, ok := m.rowIndex[name]; ok {
		return -1, errors.Errorf("Duplicate row %s", name)
	}

	switch rowType {
	case RowLE, RowGE, RowEQ:
		// Accepted.
	default:
		return -1, errors.Errorf("Unexpected type %s in row %s", rowType, name)
	}

	m.Rows = append(m.Rows, InputRow{Name: name, Type: rowType, Rhs: rhs})
	m.rowIndex[name] = len(m.Rows) - 1

	return len(m.Rows) - 1, nil
}

// AddElem records a non-zero coefficient linking the row and column given by
// index. Zero values are accepted but skipped, so callers can add candidate
// coefficients without filtering. In case of failure, function returns an error.
func (m *Model) AddElem(inRow int, inCol int, value float64) error {

	if inRow < 0 || inRow >= len(m.Rows) {
		return errors.Errorf("Row index %d out of range", inRow)
	}

	if inCol < 0 || inCol >= len(m.Cols) {
		return errors.Errorf("Column index %d out of range", inCol)
	}

	if value == 0.0 {
		return nil
	}

	m.Elems = append(m.Elems, InputElem{InRow: inRow, InCol: inCol, Value: value})
	m.Rows[inRow].HasElems = append(m.Rows[inRow].HasElems, len(m.Elems)-1)

	return nil
}

// AddObjCoef adds a linear objective coefficient for the column given by
// index. Repeated calls for the same column accumulate, which is how the PH
// linear term stacks on top of the planting cost.
// In case of failure, function returns an error.
func (m *Model) AddObjCoef(inCol int, value float64) error {

	if inCol < 0 || inCol >= len(m.Cols) {
		return errors.Errorf("Column index %d out of range", inCol)
	}

	if value == 0.0 {
		return nil
	}

	for i := 0; i < len(m.Obj); i++ {
		if m.Obj[i].InCol == inCol {
			m.Obj[i].Value += value
			return nil
		}
	}

	m.Obj = append(m.Obj, ObjCoef{InCol: inCol, Value: value})

	return nil
}

// AddQuadCoef adds a diagonal quadratic objective coefficient for the column
// given by index. In case of failure, function returns an error.
func (m *Model) AddQuadCoef(inCol int, value float64) error {

	if inCol < 0 || inCol >= len(m.Cols) {
		return errors.Errorf("Column index %d out of range", inCol)
	}

	if value == 0.0 {
		return nil
	}

	for i := 0; i < len(m.QuadObj); i++ {
		if m.QuadObj[i].InCol == inCol {
			m.QuadObj[i].Value += value
			return nil
		}
	}

	m.QuadObj = append(m.QuadObj, QuadCoef{InCol: inCol, Value: value})

	return nil
}

//==============================================================================
// LOOKUP AND STATISTICS
//==============================================================================

// ColIndex returns the index of the column with the given name, or -1 if no
// such column exists.
func (m *Model) ColIndex(name string) int {
	if index, ok := m.colIndex[name]; ok {
		return index
	}
	return -1
}

// RowIndex returns the index of the row with the given name, or -1 if no
// such row exists.
func (m *Model) RowIndex(name string) int {
	if index, ok := m.rowIndex[name]; ok {
		return index
	}
	return -1
}

// IsQuadratic reports whether the model carries any quadratic objective
// terms. Back ends that only handle linear models check this before
// accepting the problem.
func (m *Model) IsQuadratic() bool {
	return len(m.QuadObj) > 0
}

// GetStatistics populates the statistics data structure with the row,
// column, and element counts of the model.
func (m *Model) GetStatistics(stats *Statistics) {
	stats.Name = m.Name
	stats.NumRows = len(m.Rows)
	stats.NumCols = len(m.Cols)
	stats.NumElems = len(m.Elems)
	stats.NumQuad = len(m.QuadObj)
}

//==============================================================================
// EVALUATION AT A POINT
//==============================================================================

// PointFromMap translates a map of variable values indexed by name, as
// returned by the solvers, into a point indexed by column position. Columns
// missing from the map get their lower bound.
// In case of failure, function returns an error.
func (m *Model) PointFromMap(varMap map[string]float64) ([]float64, error) {

	if varMap == nil {
		return nil, errors.Errorf("Variable map is nil")
	}

	point := make([]float64, len(m.Cols))

	for i := 0; i < len(m.Cols); i++ {
		if value, ok := varMap[m.Cols[i].Name]; ok {
			point[i] = value
		} else {
			point[i] = m.Cols[i].BndLo
		}
	}

	return point, nil
}

// CalcLhs calculates the left-hand side of the constraint identified by
// rowIndex at the point provided, and passes it back via the lhs argument.
// In case of failure, function returns an error.
func (m *Model) CalcLhs(rowIndex int, point []float64, lhs *float64) error {

	*lhs = 0.0

	if rowIndex < 0 || rowIndex >= len(m.Rows) {
		return errors.Errorf("Row index %d out of range", rowIndex)
	}

	if len(point) != len(m.Cols) {
		return errors.Errorf("Point has %d values but model has %d columns",
			len(point), len(m.Cols))
	}

	row := m.Rows[rowIndex]
	for i := 0; i < len(row.HasElems); i++ {
		elem := m.Elems[row.HasElems[i]]
		*lhs += elem.Value * point[elem.InCol]
	}

	return nil
}

// ConViolation calculates by how much the constraint identified by rowIndex
// is violated at the point provided, and passes the amount back via the
// violation argument. A satisfied constraint reports zero; the amount is
// always non-negative. In case of failure, function returns an error.
func (m *Model) ConViolation(rowIndex int, point []float64, violation *float64) error {
	var lhs float64 // left-hand side of the constraint at the point

	*violation = 0.0

	if err := m.CalcLhs(rowIndex, point, &lhs); err != nil {
		return errors.Wrap(err, "ConViolation failed to evaluate constraint")
	}

	row := m.Rows[rowIndex]

	switch row.Type {

	case RowLE:
		if lhs > row.Rhs {
			*violation = lhs - row.Rhs
		}

	case RowGE:
		if lhs < row.Rhs {
			*violation = row.Rhs - lhs
		}

	case RowEQ:
		if lhs > row.Rhs {
			*violation = lhs - row.Rhs
		} else {
			*violation = row.Rhs - lhs
		}

	default:
		return errors.Errorf("Unexpected type %s in row %s", row.Type, row.Name)

	} // End switch on row type

	return nil
}

// MaxViolation scans all constraints and variable bounds at the point
// provided and passes back the largest violation found. It is used by the
// tests and the exerciser to confirm that a reported solution actually
// satisfies the model. In case of failure, function returns an error.
func (m *Model) MaxViolation(point []float64, maxViol *float64) error {
	var violation float64 // violation of the row being processed

	*maxViol = 0.0

	if len(point) != len(m.Cols) {
		return errors.Errorf("Point has %d values but model has %d columns",
			len(point), len(m.Cols))
	}

	for i := 0; i < len(m.Rows); i++ {
		if err := m.ConViolation(i, point, &violation); err != nil {
			return errors.Wrapf(err, "MaxViolation failed on row %d", i)
		}
		if violation > *maxViol {
			*maxViol = violation
		}
	}

	for i := 0; i < len(m.Cols); i++ {
		if point[i] < m.Cols[i].BndLo && m.Cols[i].BndLo-point[i] > *maxViol {
			*maxViol = m.Cols[i].BndLo - point[i]
		}
		if point[i] > m.Cols[i].BndUp && point[i]-m.Cols[i].BndUp > *maxViol {
			*maxViol = point[i] - m.Cols[i].BndUp
		}
	}

	return nil
}

// ObjValue calculates the objective function value at the point provided,
// including the quadratic terms and the objective constant, and passes it
// back via the objVal argument. In case of failure, function returns an error.
func (m *Model) ObjValue(point []float64, objVal *float64) error {

	*objVal = 0.0

	if len(point) != len(m.Cols) {
		return errors.Errorf("Point has %d values but model has %d columns",
			len(point), len(m.Cols))
	}

	for i := 0; i < len(m.Obj); i++ {
		*objVal += m.Obj[i].Value * point[m.Obj[i].InCol]
	}

	for i := 0; i < len(m.QuadObj); i++ {
		x := point[m.QuadObj[i].InCol]
		*objVal += m.QuadObj[i].Value * x * x
	}

	*objVal += m.ObjConst

	return nil
}
