package spo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMpsSections(t *testing.T) {
	model := buildSmallModel(t)
	model.ObjConst = 7.5
	require.NoError(t, model.AddQuadCoef(model.ColIndex("x"), 3.0))

	var sb strings.Builder
	require.NoError(t, model.WriteMps(&sb))
	text := sb.String()

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Greater(t, len(lines), 8)

	assert.True(t, strings.HasPrefix(lines[0], "NAME"), "file must open with NAME")
	assert.Contains(t, lines[0], "small")
	assert.Equal(t, "ENDATA", lines[len(lines)-1])

	// Section order mandated by the format.
	iRows := strings.Index(text, "ROWS\n")
	iCols := strings.Index(text, "COLUMNS\n")
	iRhs := strings.Index(text, "RHS\n")
	iBnds := strings.Index(text, "BOUNDS\n")
	iQuad := strings.Index(text, "QUADOBJ\n")
	require.True(t, iRows >= 0 && iCols > iRows && iRhs > iCols && iBnds > iRhs && iQuad > iBnds,
		"sections out of order:\n%s", text)

	// Objective row is declared first as a free row.
	rowsBody := text[iRows:iCols]
	assert.Contains(t, rowsBody, " N  NEGPROFIT")
	assert.Contains(t, rowsBody, " G  sum")
	assert.Contains(t, rowsBody, " E  balance")

	// Objective constant becomes a negated RHS entry on the objective row.
	rhsBody := text[iRhs:iBnds]
	assert.Contains(t, rhsBody, "NEGPROFIT")
	assert.Contains(t, rhsBody, "-7.5")

	// Only the finite upper bound of x deviates from the MPS defaults.
	bndsBody := text[iBnds:iQuad]
	assert.Contains(t, bndsBody, " UP BND1")
	assert.Contains(t, bndsBody, "10")
	assert.NotContains(t, bndsBody, " LO ", "zero lower bounds are the default")
}

// The diagonal quadratic coefficients must be doubled on output so that the
// 1/2 x'Qx convention applied when the file is read yields the original
// objective.
func TestWriteMpsDoublesQuadObj(t *testing.T) {
	model := buildSmallModel(t)
	require.NoError(t, model.AddQuadCoef(model.ColIndex("y"), 2.5))

	var sb strings.Builder
	require.NoError(t, model.WriteMps(&sb))

	iQuad := strings.Index(sb.String(), "QUADOBJ\n")
	require.GreaterOrEqual(t, iQuad, 0)
	quadBody := sb.String()[iQuad:]

	assert.Contains(t, quadBody, "y")
	assert.Contains(t, quadBody, "5", "coefficient 2.5 must appear doubled")
}

func TestWriteMpsOmitsEmptySections(t *testing.T) {
	model := buildSmallModel(t)

	var sb strings.Builder
	require.NoError(t, model.WriteMps(&sb))
	text := sb.String()

	assert.NotContains(t, text, "QUADOBJ", "linear model must have no QUADOBJ section")

	iRhs := strings.Index(text, "RHS\n")
	iBnds := strings.Index(text, "BOUNDS\n")
	require.True(t, iRhs >= 0 && iBnds > iRhs)
	assert.NotContains(t, text[iRhs:iBnds], "NEGPROFIT",
		"zero objective constant writes no RHS entry")
}

func TestWriteMpsRejectsEmptyModel(t *testing.T) {
	model := NewModel("empty")
	var sb strings.Builder
	assert.Error(t, model.WriteMps(&sb))
}

func TestWriteMpsFileRoundTrip(t *testing.T) {
	model := buildSmallModel(t)
	fileName := filepath.Join(t.TempDir(), "small.mps")

	require.NoError(t, model.WriteMpsFile(fileName))

	data, err := os.ReadFile(fileName)
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, model.WriteMps(&sb))
	assert.Equal(t, sb.String(), string(data))
}

//==============================================================================
// XML SOLUTION PARSING
//==============================================================================

const sampleCplexSoln = `<?xml version = "1.0" encoding="UTF-8" standalone="yes"?>
<CPLEXSolution version="1.2">
 <header
   problemName="farmer_AverageScenario"
   solutionName="incumbent"
   solutionIndex="-1"
   objectiveValue="-118600"
   solutionTypeValue="1"
   solutionTypeString="basic"
   solutionStatusValue="1"
   solutionStatusString="optimal"
   solutionMethodString="dual"
   primalFeasible="1"
   dualFeasible="1"
   simplexIterations="7"
   barrierIterations="0"
   writeLevel="1"/>
 <linearConstraints>
  <constraint name="Land" index="0" slack="0" dual="0"/>
  <constraint name="Feed_WHEAT" index="1" slack="0" dual="170"/>
 </linearConstraints>
 <variables>
  <variable name="Acres_WHEAT" index="0" value="120" reducedCost="0"/>
  <variable name="Acres_CORN" index="1" value="80" reducedCost="0"/>
  <variable name="Acres_SUGAR_BEETS" index="2" value="300" reducedCost="0"/>
 </variables>
</CPLEXSolution>
`

func TestCplexParseSoln(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "solution.sol")
	require.NoError(t, os.WriteFile(fileName, []byte(sampleCplexSoln), 0644))

	var soln CplexSoln
	require.NoError(t, CplexParseSoln(fileName, &soln))

	assert.Equal(t, "farmer_AverageScenario", soln.Header.ProblemName)
	assert.InDelta(t, -118600.0, soln.Header.ObjValue, 1e-9)
	assert.Equal(t, 1, soln.Header.SolStatusValue)
	assert.Equal(t, "optimal", soln.Header.SolStatusString)
	assert.Equal(t, 7, soln.Header.SimplexItns)

	require.Len(t, soln.LinCons, 2)
	assert.Equal(t, "Feed_WHEAT", soln.LinCons[1].Name)
	assert.InDelta(t, 170.0, soln.LinCons[1].Pi, 1e-9)

	require.Len(t, soln.Varbs, 3)
	assert.Equal(t, "Acres_SUGAR_BEETS", soln.Varbs[2].Name)
	assert.InDelta(t, 300.0, soln.Varbs[2].Value, 1e-9)
}

func TestCplexParseSolnErrors(t *testing.T) {
	var soln CplexSoln

	err := CplexParseSoln(filepath.Join(t.TempDir(), "no_such.sol"), &soln)
	assert.Error(t, err)

	fileName := filepath.Join(t.TempDir(), "garbage.sol")
	require.NoError(t, os.WriteFile(fileName, []byte("not xml at all"), 0644))
	assert.Error(t, CplexParseSoln(fileName, &soln))
}

func TestStatusFromCplex(t *testing.T) {
	assert.Equal(t, StatusOptimal, statusFromCplex(1))
	assert.Equal(t, StatusOptimal, statusFromCplex(101))
	assert.Equal(t, StatusOptimal, statusFromCplex(102))
	assert.Equal(t, StatusUnbounded, statusFromCplex(2))
	assert.Equal(t, StatusUnbounded, statusFromCplex(118))
	assert.Equal(t, StatusInfeasible, statusFromCplex(3))
	assert.Equal(t, StatusInfeasible, statusFromCplex(103))
	assert.Equal(t, StatusSolverError, statusFromCplex(0))
	assert.Equal(t, StatusSolverError, statusFromCplex(42))
}
