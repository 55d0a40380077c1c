// Package phases declares the analysis phases and the dependencies between them.
package phases

import (
	"fmt"

	"github.com/jonathan/visibility-gap/internal/types"
)

// PhaseDefinition defines metadata for an analysis phase
type PhaseDefinition struct {
	Kind         types.PhaseKind
	Description  string
	Dependencies []types.PhaseKind
}

// PhaseRegistry holds all phase definitions
var PhaseRegistry = map[types.PhaseKind]PhaseDefinition{
	types.PhaseSearch: {
		Kind:         types.PhaseSearch,
		Description:  "fetch ranked search results for the project's queries",
		Dependencies: []types.PhaseKind{},
	},
	types.PhaseCitation: {
		Kind:         types.PhaseCitation,
		Description:  "probe generative engines and record cited domains",
		Dependencies: []types.PhaseKind{},
	},
	types.PhaseGap: {
		Kind:         types.PhaseGap,
		Description:  "compute competitor presence the client lacks",
		Dependencies: []types.PhaseKind{types.PhaseSearch, types.PhaseCitation},
	},
}

// StatusLookup returns the status of the latest job of a phase, or JobIdle when there is none.
type StatusLookup func(kind types.PhaseKind) types.JobStatus

// DependencyError represents unmet prerequisites for a phase
type DependencyError struct {
	Phase   types.PhaseKind
	Missing []types.PhaseKind
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("phase %s is missing completed dependencies: %v", e.Phase, e.Missing)
}

// ValidateDependencies checks that every dependency of a phase has completed
func ValidateDependencies(kind types.PhaseKind, status StatusLookup) error {
	def, ok := PhaseRegistry[kind]
	if !ok {
		return fmt.Errorf("unknown phase: %s", kind)
	}

	var missing []types.PhaseKind
	for _, dep := range def.Dependencies {
		if status(dep) != types.JobCompleted {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Phase:   kind,
			Missing: missing,
		}
	}
	return nil
}

// AvailablePhases returns the phases that can be launched now: dependencies met and not running.
// Order follows types.AllPhases.
func AvailablePhases(status StatusLookup) []types.PhaseKind {
	var available []types.PhaseKind
	for _, kind := range types.AllPhases() {
		if status(kind) == types.JobRunning {
			continue
		}
		if err := ValidateDependencies(kind, status); err != nil {
			continue
		}
		available = append(available, kind)
	}
	return available
}

// BlockedPhases returns the phases whose dependencies are not met.
func BlockedPhases(status StatusLookup) []types.PhaseKind {
	var blocked []types.PhaseKind
	for _, kind := range types.AllPhases() {
		if err := ValidateDependencies(kind, status); err != nil {
			blocked = append(blocked, kind)
		}
	}
	return blocked
}
