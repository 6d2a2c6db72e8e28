package objects

import (
	"fmt"
)

type StageKey string

const (
	StageRequirements    StageKey = "requirements"
	StageHighLevelDesign StageKey = "high_level_design"
	StageDetailedDesign  StageKey = "detailed_design"
	StageSoftwareTesting StageKey = "software_testing"
	StageAcceptance      StageKey = "acceptance"
)

// StageKeys lists the canonical stages in order.
var StageKeys = []StageKey{
	StageRequirements,
	StageHighLevelDesign,
	StageDetailedDesign,
	StageSoftwareTesting,
	StageAcceptance,
}

// StageCount is the number of stages every active project carries.
const StageCount = 5

func ParseStageKey(s string) (StageKey, error) {
	k := StageKey(s)
	if k.Order() == 0 {
		return "", fmt.Errorf("unknown stage key %q", s)
	}

	return k, nil
}

// Order returns the 1-based position of the stage, or 0 for unknown keys.
func (k StageKey) Order() int {
	for i, key := range StageKeys {
		if key == k {
			return i + 1
		}
	}

	return 0
}

// Next returns the following stage, false after acceptance.
func (k StageKey) Next() (StageKey, bool) {
	o := k.Order()
	if o == 0 || o >= StageCount {
		return "", false
	}

	return StageKeys[o], true
}

// Prev returns the preceding stage, false before requirements.
func (k StageKey) Prev() (StageKey, bool) {
	o := k.Order()
	if o <= 1 {
		return "", false
	}

	return StageKeys[o-2], true
}

// StageAt returns the stage with the given 1-based order.
func StageAt(order int) (StageKey, bool) {
	if order < 1 || order > StageCount {
		return "", false
	}

	return StageKeys[order-1], true
}

type StageStatus string

const (
	StageStatusLocked StageStatus = "locked"
	StageStatusOpen   StageStatus = "open"
	StageStatusPassed StageStatus = "passed"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusLocked, StageStatusOpen, StageStatusPassed:
		return true
	default:
		return false
	}
}

// StageVector holds stage statuses indexed by order-1.
type StageVector [StageCount]StageStatus

// InitialStageVector is the vector materialized when a project becomes active.
func InitialStageVector() StageVector {
	return StageVector{
		StageStatusOpen,
		StageStatusLocked,
		StageStatusLocked,
		StageStatusLocked,
		StageStatusLocked,
	}
}

// RollbackVector recomputes every stage relative to target: earlier stages are
// passed, the target is open, later stages are locked. It ignores the current
// vector, so applying it twice yields the same result.
func RollbackVector(target StageKey) (StageVector, error) {
	t := target.Order()
	if t == 0 {
		return StageVector{}, fmt.Errorf("unknown stage key %q", target)
	}

	var v StageVector

	for i := range v {
		switch order := i + 1; {
		case order < t:
			v[i] = StageStatusPassed
		case order == t:
			v[i] = StageStatusOpen
		default:
			v[i] = StageStatusLocked
		}
	}

	return v, nil
}

// Frontier returns the order of the open stage (0 when none is open) and
// whether the vector is well formed: non-locked stages form a contiguous
// prefix, at most one stage is open and it sits at the end of that prefix.
func (v StageVector) Frontier() (int, bool) {
	open := 0
	seenLocked := false

	for i, s := range v {
		order := i + 1

		switch s {
		case StageStatusLocked:
			seenLocked = true
		case StageStatusOpen:
			if seenLocked || open != 0 {
				return 0, false
			}

			open = order
		case StageStatusPassed:
			if seenLocked || open != 0 {
				return 0, false
			}
		default:
			return 0, false
		}
	}

	return open, true
}
