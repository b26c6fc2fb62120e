package spo

// scen: Scenario set management.
//
// A scenario set is an ordered, finite, non-empty collection of yield
// realizations whose probability weights sum to one. The set is fixed at
// problem setup; the PH coordinator iterates over it but never mutates it.

import (
	"errors"
	"fmt"
	"math"

	pkgerrors "github.com/pkg/errors"
)

// WeightTol is the tolerance within which the scenario probabilities must
// sum to one.
const WeightTol = 1.0e-6

// ErrInvalidWeights reports scenario probabilities that are negative or do
// not sum to one within WeightTol.
var ErrInvalidWeights = errors.New("invalid scenario weights")

// ScenarioSet holds the ordered collection of scenarios making up the
// discrete distribution of the uncertain yields.
type ScenarioSet struct {
	scens  []Scenario
	byName map[string]int
}

// NewScenarioSet validates the scenarios provided and returns them as a
// set. Scenarios with a zero probability receive the uniform weight
// 1/len(scens) before validation, matching the convention of the original
// problem where unspecified probabilities default to uniform.
// In case of failure, function returns an error.
func NewScenarioSet(scens []Scenario) (*ScenarioSet, error) {
	var sum float64 // accumulated probability mass

	if len(scens) == 0 {
		return nil, pkgerrors.Wrap(ErrInvalidWeights, "scenario set is empty")
	}

	list := make([]Scenario, len(scens))
	copy(list, scens)

	allZero := true
	for i := 0; i < len(list); i++ {
		if list[i].Prob != 0.0 {
			allZero = false
			break
		}
	}

	if allZero {
		uniform := 1.0 / float64(len(list))
		for i := 0; i < len(list); i++ {
			list[i].Prob = uniform
		}
	}

	byName := make(map[string]int)

	for i := 0; i < len(list); i++ {
		if list[i].Name == "" {
			list[i].Name = fmt.Sprintf("scen%d", i)
		}
		if _, ok := byName[list[i].Name]; ok {
			return nil, pkgerrors.Wrapf(ErrInvalidWeights,
				"duplicate scenario name %s", list[i].Name)
		}
		byName[list[i].Name] = i

		if list[i].Prob < 0 || math.IsNaN(list[i].Prob) {
			return nil, pkgerrors.Wrapf(ErrInvalidWeights,
				"scenario %s has probability %g", list[i].Name, list[i].Prob)
		}
		sum += list[i].Prob
	}

	if math.Abs(sum-1.0) > WeightTol {
		return nil, pkgerrors.Wrapf(ErrInvalidWeights,
			"probabilities sum to %g", sum)
	}

	return &ScenarioSet{scens: list, byName: byName}, nil
}

// Len returns the number of scenarios in the set.
func (ss *ScenarioSet) Len() int {
	return len(ss.scens)
}

// Scenarios returns the scenarios in their original order. The returned
// slice is shared; callers must not modify it.
func (ss *ScenarioSet) Scenarios() []Scenario {
	return ss.scens
}

// Lookup returns the scenario with the given name.
// In case of failure, function returns an error.
func (ss *ScenarioSet) Lookup(name string) (*Scenario, error) {

	index, ok := ss.byName[name]
	if !ok {
		return nil, pkgerrors.Errorf("Scenario %s not found", name)
	}

	return &ss.scens[index], nil
}

//==============================================================================
// TEXTBOOK DATA
//==============================================================================

// TextbookScenarios returns the three yield scenarios of the textbook
// farmer problem: below average, average, and above average, each with
// probability one third.
func TextbookScenarios() []Scenario {
	return []Scenario{
		{
			Name: "BelowAverageScenario",
			Prob: 1.0 / 3.0,
			Yield: map[string]float64{
				"WHEAT": 2.0, "CORN": 2.4, "SUGAR_BEETS": 16.0,
			},
		},
		{
			Name: "AverageScenario",
			Prob: 1.0 / 3.0,
			Yield: map[string]float64{
				"WHEAT": 2.5, "CORN": 3.0, "SUGAR_BEETS": 20.0,
			},
		},
		{
			Name: "AboveAverageScenario",
			Prob: 1.0 / 3.0,
			Yield: map[string]float64{
				"WHEAT": 3.0, "CORN": 3.6, "SUGAR_BEETS": 24.0,
			},
		},
	}
}

// ScaleScenario returns a copy of the scenario with its yield vector
// replicated to match a farm produced by ScaleFarm with the same
// multiplier.
func ScaleScenario(scen *Scenario, baseCrops []string, multiplier int) Scenario {

	if multiplier < 1 {
		multiplier = 1
	}

	scaled := Scenario{
		Name:  scen.Name,
		Prob:  scen.Prob,
		Yield: make(map[string]float64),
	}

	for i := 0; i < multiplier; i++ {
		for _, crop := range baseCrops {
			scaled.Yield[fmt.Sprintf("%s%d", crop, i)] = scen.Yield[crop]
		}
	}

	return scaled
}
