package spo

// farm: The Farmer's Problem parameters and the scenario model builder.
//
// The builder follows the textbook formulation. Land is allocated among the
// crops in the first stage; once the scenario's yield is realized, feed
// shortfalls are purchased and surplus is sold. Every crop carries a sales
// quota: tons inside the quota sell at the favourable price, tons beyond it
// at the depressed price. For wheat and corn the quota is effectively
// unlimited and the over-quota price is zero, which reduces to the plain
// single-price market; for sugar beets the quota is the 6000 ton limit.
// Purchasing is priced prohibitively for crops that cannot be bought.

import (
	"errors"
	"fmt"
	"math"

	pkgerrors "github.com/pkg/errors"
)

// Errors reported when model construction rejects its input. Both carry the
// offending crop and scenario in the wrapped message.
var (
	// ErrInvalidScenario reports malformed scenario data, such as a
	// negative yield or a probability outside [0, 1].
	ErrInvalidScenario = errors.New("invalid scenario data")

	// ErrMissingParameter reports a crop that lacks a required cost,
	// price, or requirement entry.
	ErrMissingParameter = errors.New("missing crop parameter")
)

// CropData holds the global cost, price, and requirement parameters of one
// crop. These values do not vary by scenario; only the yield does.
type CropData struct {
	PlantCost       float64 // Planting cost, currency per acre
	SubQuotaPrice   float64 // Selling price inside the quota, currency per ton
	SuperQuotaPrice float64 // Selling price beyond the quota, currency per ton
	PriceQuota      float64 // Tons sellable at the sub-quota price
	PurchasePrice   float64 // Purchase price, currency per ton
	FeedRequirement float64 // Minimum tons required for cattle feed
}

// FarmData holds the full deterministic parameter set of the problem: the
// ordered crop list, the per-crop tables, and the available land.
type FarmData struct {
	Crops     []string            // Crop names, in model order
	Data      map[string]CropData // Per-crop parameter tables
	AvailLand float64             // Total acreage available for planting
}

// Scenario holds one realization of the uncertain data: a yield vector over
// the crops and the probability weight of this outcome.
type Scenario struct {
	Name  string             // Scenario identifier
	Prob  float64            // Probability weight
	Yield map[string]float64 // Yield per crop, tons per acre
}

// PhTerms carries the progressive hedging augmentation for one scenario
// subproblem: the per-crop linear weight, the per-crop proximal coefficient,
// and the consensus acreage the proximal term is anchored to. The two
// independent flags control which terms enter the objective, so the same
// builder serves the plain deterministic model (both flags off) and the
// PH subproblems.
type PhTerms struct {
	LinearActive   bool               // Controls if the linear weight term is added
	ProximalActive bool               // Controls if the quadratic proximal term is added
	Weight         map[string]float64 // Linear weight per crop
	Rho            map[string]float64 // Proximal coefficient per crop
	Consensus      map[string]float64 // Consensus acreage per crop
}

// DecisionPlan holds the decision variables extracted from one scenario
// solution, indexed by crop name.
type DecisionPlan struct {
	Scenario  string             // Scenario the plan belongs to
	Acres     map[string]float64 // Acres planted per crop (first stage)
	Tons      map[string]float64 // Yield realized per crop
	Purchased map[string]float64 // Tons purchased per crop
	SoldSub   map[string]float64 // Tons sold inside the quota per crop
	SoldSuper map[string]float64 // Tons sold beyond the quota per crop
	ObjVal    float64            // Objective value (negated profit)
}

// Names of the model rows and columns built for each crop. Keeping the
// naming in one place lets the plan extraction and the tests address the
// model without duplicating format strings.
func acresCol(crop string) string { return "Acres_" + crop }
func tonsCol(crop string) string  { return "Tons_" + crop }
func buyCol(crop string) string   { return "Buy_" + crop }
func subCol(crop string) string   { return "SellSub_" + crop }
func supCol(crop string) string   { return "SellSup_" + crop }

func yieldRow(crop string) string { return "Yield_" + crop }
func feedRow(crop string) string  { return "Feed_" + crop }
func sellRow(crop string) string  { return "SellLim_" + crop }

const landRow = "Land"

//==============================================================================
// VALIDATION
//==============================================================================

// checkFarm verifies that every crop has a parameter table entry and that
// the scalar parameters are usable. In case of failure, function returns
// an error.
func checkFarm(farm *FarmData) error {

	if farm == nil {
		return pkgerrors.Wrap(ErrMissingParameter, "farm data is nil")
	}

	if len(farm.Crops) == 0 {
		return pkgerrors.Wrap(ErrMissingParameter, "farm has no crops")
	}

	if farm.AvailLand < 0 || math.IsNaN(farm.AvailLand) {
		return pkgerrors.Wrapf(ErrMissingParameter,
			"available land %g is not usable", farm.AvailLand)
	}

	for _, crop := range farm.Crops {
		data, ok := farm.Data[crop]
		if !ok {
			return pkgerrors.Wrapf(ErrMissingParameter, "crop %s has no parameter entry", crop)
		}
		if data.PriceQuota < 0 {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"crop %s has negative price quota %g", crop, data.PriceQuota)
		}
		if data.FeedRequirement < 0 {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"crop %s has negative feed requirement %g", crop, data.FeedRequirement)
		}
	}

	return nil
}

// checkScenario verifies the scenario's yield vector against the crop list.
// In case of failure, function returns an error.
func checkScenario(farm *FarmData, scen *Scenario) error {

	if scen == nil {
		return pkgerrors.Wrap(ErrInvalidScenario, "scenario is nil")
	}

	if scen.Prob < 0 || scen.Prob > 1 || math.IsNaN(scen.Prob) {
		return pkgerrors.Wrapf(ErrInvalidScenario,
			"scenario %s has probability %g", scen.Name, scen.Prob)
	}

	for _, crop := range farm.Crops {
		yield, ok := scen.Yield[crop]
		if !ok {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"scenario %s has no yield for crop %s", scen.Name, crop)
		}
		if yield < 0 || math.IsNaN(yield) {
			return pkgerrors.Wrapf(ErrInvalidScenario,
				"scenario %s has yield %g for crop %s", scen.Name, yield, crop)
		}
	}

	return nil
}

//==============================================================================
// MODEL BUILDER
//==============================================================================

// BuildModel constructs the solver-ready model for one scenario of the
// farmer problem. The ph argument may be nil for the plain deterministic
// model; when present, its two flags control whether the PH linear weight
// term and the quadratic proximal term enter the objective.
//
// The variables per crop are the acres planted, the tons realized, the tons
// purchased, and the tons sold inside and beyond the quota. The constraints
// are the land limit, the per-crop yield definition (kept as an explicit
// equality so only this row changes between scenarios), the cattle feed
// requirement, and the sales limit tying both sell tiers to the realized
// tons. The objective is the negated profit, minimized.
//
// In case of failure, function returns an error.
func BuildModel(farm *FarmData, scen *Scenario, ph *PhTerms) (*Model, error) {
	var iLand int // index of the land constraint row

	if err := checkFarm(farm); err != nil {
		return nil, pkgerrors.Wrap(err, "BuildModel rejected farm data")
	}

	if err := checkScenario(farm, scen); err != nil {
		return nil, pkgerrors.Wrap(err, "BuildModel rejected scenario")
	}

	model := NewModel(fmt.Sprintf("farmer_%s", scen.Name))

	// Land constraint comes first so the acreage coefficients can be added
	// as the columns are created.

	iLand, _ = model.AddRow(landRow, RowLE, farm.AvailLand)

	for _, crop := range farm.Crops {
		data := farm.Data[crop]
		yield := scen.Yield[crop]

		// Variables for this crop. Acreage is bounded by the total land,
		// in-quota sales by the price quota.

		iAcres, err := model.AddCol(acresCol(crop), 0.0, farm.AvailLand)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "BuildModel failed on crop %s", crop)
		}

		iTons, _ := model.AddCol(tonsCol(crop), 0.0, Plinfy)
		iBuy, _ := model.AddCol(buyCol(crop), 0.0, Plinfy)

		subUp := data.PriceQuota
		if subUp >= Plinfy {
			subUp = Plinfy
		}
		iSub, _ := model.AddCol(subCol(crop), 0.0, subUp)
		iSup, _ := model.AddCol(supCol(crop), 0.0, Plinfy)

		// Land use.
		_ = model.AddElem(iLand, iAcres, 1.0)

		// Yield definition: Tons - yield * Acres = 0. The scenario enters
		// the model only through this coefficient.
		iYield, _ := model.AddRow(yieldRow(crop), RowEQ, 0.0)
		_ = model.AddElem(iYield, iTons, 1.0)
		_ = model.AddElem(iYield, iAcres, -yield)

		// Cattle feed: Tons + Buy - SellSub - SellSup >= requirement.
		iFeed, _ := model.AddRow(feedRow(crop), RowGE, data.FeedRequirement)
		_ = model.AddElem(iFeed, iTons, 1.0)
		_ = model.AddElem(iFeed, iBuy, 1.0)
		_ = model.AddElem(iFeed, iSub, -1.0)
		_ = model.AddElem(iFeed, iSup, -1.0)

		// Sales limit: SellSub + SellSup - Tons <= 0. For sugar beets this
		// is the beet-split constraint over the two price tiers.
		iSell, _ := model.AddRow(sellRow(crop), RowLE, 0.0)
		_ = model.AddElem(iSell, iSub, 1.0)
		_ = model.AddElem(iSell, iSup, 1.0)
		_ = model.AddElem(iSell, iTons, -1.0)

		// Objective: planting cost and purchases count against the farmer,
		// sales count in his favour.
		_ = model.AddObjCoef(iAcres, data.PlantCost)
		_ = model.AddObjCoef(iBuy, data.PurchasePrice)
		_ = model.AddObjCoef(iSub, -data.SubQuotaPrice)
		_ = model.AddObjCoef(iSup, -data.SuperQuotaPrice)

		if err := addPhTerms(model, iAcres, crop, scen.Name, ph); err != nil {
			return nil, err
		}
	} // End for all crops

	return model, nil
}

// addPhTerms augments the objective with the progressive hedging terms for
// one crop's acreage variable, honoring the two activation flags. The
// proximal penalty rho*(x - xbar)^2 is expanded into its quadratic, linear,
// and constant parts so the model stays in standard form.
// In case of failure, function returns an error.
func addPhTerms(model *Model, iAcres int, crop string, scenName string, ph *PhTerms) error {

	if ph == nil {
		return nil
	}

	if ph.LinearActive {
		weight, ok := ph.Weight[crop]
		if !ok {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"scenario %s has no PH weight for crop %s", scenName, crop)
		}
		_ = model.AddObjCoef(iAcres, weight)
	}

	if ph.ProximalActive {
		rho, ok := ph.Rho[crop]
		if !ok {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"no PH rho configured for crop %s", crop)
		}
		if rho < 0 {
			return pkgerrors.Wrapf(ErrInvalidScenario,
				"PH rho %g for crop %s is negative", rho, crop)
		}
		xbar, ok := ph.Consensus[crop]
		if !ok {
			return pkgerrors.Wrapf(ErrMissingParameter,
				"no consensus acreage for crop %s", crop)
		}

		_ = model.AddQuadCoef(iAcres, rho)
		_ = model.AddObjCoef(iAcres, -2.0*rho*xbar)
		model.ObjConst += rho * xbar * xbar
	}

	return nil
}

//==============================================================================
// PLAN EXTRACTION
//==============================================================================

// ExtractPlan reads the decision variables of one scenario solution back
// into a DecisionPlan indexed by crop. In case of failure, function returns
// an error.
func ExtractPlan(farm *FarmData, scen *Scenario, soln *Solution) (*DecisionPlan, error) {

	if soln == nil || soln.VarMap == nil {
		return nil, pkgerrors.Errorf("ExtractPlan received empty solution for scenario %s",
			scen.Name)
	}

	plan := &DecisionPlan{
		Scenario:  scen.Name,
		Acres:     make(map[string]float64),
		Tons:      make(map[string]float64),
		Purchased: make(map[string]float64),
		SoldSub:   make(map[string]float64),
		SoldSuper: make(map[string]float64),
		ObjVal:    soln.ObjVal,
	}

	for _, crop := range farm.Crops {
		value, ok := soln.VarMap[acresCol(crop)]
		if !ok {
			return nil, pkgerrors.Errorf("Solution for scenario %s has no value for %s",
				scen.Name, acresCol(crop))
		}
		plan.Acres[crop] = value

		plan.Tons[crop] = soln.VarMap[tonsCol(crop)]
		plan.Purchased[crop] = soln.VarMap[buyCol(crop)]
		plan.SoldSub[crop] = soln.VarMap[subCol(crop)]
		plan.SoldSuper[crop] = soln.VarMap[supCol(crop)]
	}

	return plan, nil
}

//==============================================================================
// TEXTBOOK DATA
//==============================================================================

// TextbookFarm returns the parameter set of the farmer problem as it
// appears in Birge and Louveaux: 500 acres, wheat, corn, and sugar beets,
// with the 6000 ton beet quota. Purchasing sugar beets is priced
// prohibitively rather than forbidden outright, which keeps the model
// structure uniform across crops.
func TextbookFarm() *FarmData {
	return &FarmData{
		Crops:     []string{"WHEAT", "CORN", "SUGAR_BEETS"},
		AvailLand: 500.0,
		Data: map[string]CropData{
			"WHEAT": {
				PlantCost:       150.0,
				SubQuotaPrice:   170.0,
				SuperQuotaPrice: 0.0,
				PriceQuota:      Plinfy,
				PurchasePrice:   238.0,
				FeedRequirement: 200.0,
			},
			"CORN": {
				PlantCost:       230.0,
				SubQuotaPrice:   150.0,
				SuperQuotaPrice: 0.0,
				PriceQuota:      Plinfy,
				PurchasePrice:   210.0,
				FeedRequirement: 240.0,
			},
			"SUGAR_BEETS": {
				PlantCost:       260.0,
				SubQuotaPrice:   36.0,
				SuperQuotaPrice: 10.0,
				PriceQuota:      6000.0,
				PurchasePrice:   100000.0,
				FeedRequirement: 0.0,
			},
		},
	}
}

// ScaleFarm returns a copy of the farm with every crop replicated the given
// number of times (WHEAT0, WHEAT1, ...) and the land scaled to match. It
// reproduces the stress-test mode of the original problem; a multiplier of
// one returns an equivalent farm with suffixed crop names.
func ScaleFarm(farm *FarmData, multiplier int) *FarmData {

	if multiplier < 1 {
		multiplier = 1
	}

	scaled := &FarmData{
		AvailLand: farm.AvailLand * float64(multiplier),
		Data:      make(map[string]CropData),
	}

	for i := 0; i < multiplier; i++ {
		for _, crop := range farm.Crops {
			name := fmt.Sprintf("%s%d", crop, i)
			scaled.Crops = append(scaled.Crops, name)
			scaled.Data[name] = farm.Data[crop]
		}
	}

	return scaled
}
