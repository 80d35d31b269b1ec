package workflow

// State is a step of the proposal workflow.
type State string

const (
	StateInit            State = "init"
	StateBaselineLookup  State = "baseline_lookup"
	StateMassBalance     State = "mass_balance"
	StateTrainDesign     State = "train_design"
	StateEquipmentSizing State = "equipment_sizing"
	StateValidation      State = "validation"
	StateCosting         State = "costing"
	StateOutputAssembly  State = "output_assembly"
	StateDone            State = "done"
)

// Progress is the percent complete reported on entry to the state.
func (s State) Progress() int {
	switch s {
	case StateInit:
		return 0
	case StateBaselineLookup:
		return 10
	case StateMassBalance:
		return 20
	case StateTrainDesign:
		return 30
	case StateEquipmentSizing:
		return 55
	case StateValidation:
		return 75
	case StateCosting:
		return 85
	case StateOutputAssembly:
		return 95
	case StateDone:
		return 100
	default:
		return 0
	}
}

// Description is the human-readable label reported as a job's current step.
func (s State) Description() string {
	switch s {
	case StateInit:
		return "Validating request"
	case StateBaselineLookup:
		return "Searching proven cases"
	case StateMassBalance:
		return "Calculating mass balance"
	case StateTrainDesign:
		return "Designing treatment train"
	case StateEquipmentSizing:
		return "Sizing biological reactors"
	case StateValidation:
		return "Simulating treatment efficiency"
	case StateCosting:
		return "Estimating CAPEX and OPEX"
	case StateOutputAssembly:
		return "Assembling proposal"
	case StateDone:
		return "Proposal ready"
	default:
		return string(s)
	}
}

// Progress is one structured progress report.
type Progress struct {
	State   State
	Percent int
	Message string
}

// ProgressFunc receives a report on every state transition.
type ProgressFunc func(Progress)
