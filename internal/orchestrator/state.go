package orchestrator

// State is a step of a migration run.
type State int

// Run states in the order a run passes through them. Failed is reachable
// from any non-terminal state.
const (
	Idle State = iota
	ValidatingConnections
	ReadingCatalog
	PlanningDdl
	ApplyingNamespaces
	ApplyingTables
	ApplyingForeignKeys
	MovingData
	Reporting
	Done
	Failed
)

var stateNames = [...]string{
	Idle:                  "Idle",
	ValidatingConnections: "ValidatingConnections",
	ReadingCatalog:        "ReadingCatalog",
	PlanningDdl:           "PlanningDdl",
	ApplyingNamespaces:    "ApplyingNamespaces",
	ApplyingTables:        "ApplyingTables",
	ApplyingForeignKeys:   "ApplyingForeignKeys",
	MovingData:            "MovingData",
	Reporting:             "Reporting",
	Done:                  "Done",
	Failed:                "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
