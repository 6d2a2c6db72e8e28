package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Frozen("class %d is archived", 3)

	require.ErrorIs(t, err, ErrFrozen)
	require.NotErrorIs(t, err, ErrForbidden)
	require.Equal(t, KindFrozen, KindOf(err))
	require.Equal(t, "frozen: class 3 is archived", err.Error())
}

func TestWrappedKind(t *testing.T) {
	err := fmt.Errorf("approve join request: %w", Conflict("team is locked"))

	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, KindConflict, KindOf(err))
	require.True(t, IsDomain(err))
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	err := InvalidTransition("active", "submitted")
	require.ErrorIs(t, err, ErrConflict)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("predicate failed")
	err := Wrap(KindForbidden, cause, "abac rule %s", "projects:submit")

	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, err, cause)
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.False(t, IsDomain(errors.New("boom")))
}

func TestValidationFields(t *testing.T) {
	err := ValidationFields(FieldError{Field: "name", Error: "name is required"})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "name: name is required")
}
