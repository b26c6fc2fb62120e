package spo

// config: YAML problem file loading.
//
// The problem file carries everything the package accepts as input: the
// crop tables, the available land, the scenario list with yields and
// probabilities, and the PH controls. Defaults are applied here so a
// minimal file stays minimal.

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type cropConfig struct {
	Name            string   `yaml:"name"`
	PlantCost       float64  `yaml:"plant_cost"`
	SubQuotaPrice   float64  `yaml:"sub_quota_price"`
	SuperQuotaPrice float64  `yaml:"super_quota_price"`
	PriceQuota      *float64 `yaml:"price_quota"` // omitted means unlimited; 0 forbids in-quota sales
	PurchasePrice   float64  `yaml:"purchase_price"`
	FeedRequirement float64  `yaml:"feed_requirement"`
}

type scenConfig struct {
	Name  string             `yaml:"name"`
	Prob  float64            `yaml:"prob"` // 0 everywhere means uniform
	Yield map[string]float64 `yaml:"yield"`
}

type phConfig struct {
	LinearTerm   bool               `yaml:"linear_term"`
	ProximalTerm bool               `yaml:"proximal_term"`
	Rho          map[string]float64 `yaml:"rho"`
	Tolerance    float64            `yaml:"tolerance"`
	MaxIter      int                `yaml:"max_iterations"`
	RetryLimit   int                `yaml:"retry_limit"`
	SolveTimeout string             `yaml:"solve_timeout"`
	Parallel     bool               `yaml:"parallel"`
}

type problemConfig struct {
	Name      string       `yaml:"name"`
	Land      float64      `yaml:"land"`
	Crops     []cropConfig `yaml:"crops"`
	Scenarios []scenConfig `yaml:"scenarios"`
	Ph        phConfig     `yaml:"ph"`
}

// Problem bundles the validated contents of one problem file.
type Problem struct {
	Name  string       // Problem name from the file
	Farm  *FarmData    // Crop tables and land
	Scens *ScenarioSet // Validated scenario set
	Ctrl  PhCtrl       // PH controls with defaults applied
}

// LoadProblem reads and validates a YAML problem file. Scenario
// probabilities default to uniform when none are given. An omitted price
// quota is read as unlimited; an explicit quota of zero forbids in-quota
// sales, and a negative quota is rejected. In case of failure, function
// returns an error.
func LoadProblem(path string) (*Problem, error) {
	var config problemConfig // raw file contents before validation

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read problem file %s", path)
	}

	if err = yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse problem file %s", path)
	}

	farm := &FarmData{
		AvailLand: config.Land,
		Data:      make(map[string]CropData),
	}

	for _, crop := range config.Crops {
		quota := Plinfy
		if crop.PriceQuota != nil {
			quota = *crop.PriceQuota
		}
		farm.Crops = append(farm.Crops, crop.Name)
		farm.Data[crop.Name] = CropData{
			PlantCost:       crop.PlantCost,
			SubQuotaPrice:   crop.SubQuotaPrice,
			SuperQuotaPrice: crop.SuperQuotaPrice,
			PriceQuota:      quota,
			PurchasePrice:   crop.PurchasePrice,
			FeedRequirement: crop.FeedRequirement,
		}
	}

	if err = checkFarm(farm); err != nil {
		return nil, errors.Wrapf(err, "Problem file %s rejected", path)
	}

	scens := make([]Scenario, 0, len(config.Scenarios))
	for _, scen := range config.Scenarios {
		scens = append(scens, Scenario{
			Name:  scen.Name,
			Prob:  scen.Prob,
			Yield: scen.Yield,
		})
	}

	scenSet, err := NewScenarioSet(scens)
	if err != nil {
		return nil, errors.Wrapf(err, "Problem file %s rejected", path)
	}

	// Every scenario must cover every crop; validating here keeps the
	// failure tied to the file rather than to a later model build.
	for i := range scenSet.Scenarios() {
		if err = checkScenario(farm, &scenSet.Scenarios()[i]); err != nil {
			return nil, errors.Wrapf(err, "Problem file %s rejected", path)
		}
	}

	ctrl := PhCtrl{
		LinearActive:   config.Ph.LinearTerm,
		ProximalActive: config.Ph.ProximalTerm,
		Rho:            config.Ph.Rho,
		ConvTol:        config.Ph.Tolerance,
		MaxIter:        config.Ph.MaxIter,
		RetryLimit:     config.Ph.RetryLimit,
		Parallel:       config.Ph.Parallel,
	}

	if config.Ph.SolveTimeout != "" {
		timeout, err := time.ParseDuration(config.Ph.SolveTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "Problem file %s has bad solve_timeout", path)
		}
		ctrl.SolveTimeout = timeout
	}

	name := config.Name
	if name == "" {
		name = "farmer"
	}

	return &Problem{Name: name, Farm: farm, Scens: scenSet, Ctrl: ctrl}, nil
}
