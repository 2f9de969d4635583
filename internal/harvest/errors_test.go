package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelledWrapsCause(t *testing.T) {
	t.Parallel()

	err := Cancelled(context.Canceled)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, IsCancelled(err))
	require.True(t, IsCancelled(context.Canceled))
	require.False(t, IsCancelled(ErrBlocked))
	require.Equal(t, ErrCancelled, Cancelled(nil))
	require.Same(t, err, Cancelled(err), "already-cancelled errors are not rewrapped")
}

func TestTypedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	var mf *MissingFieldError
	err := error(&MissingFieldError{Field: "content", Err: ErrContentRootNotFound})
	require.ErrorAs(t, err, &mf)
	require.ErrorIs(t, err, ErrContentRootNotFound)
	require.Equal(t, "missing field book title", (&MissingFieldError{Field: "book title"}).Error())

	te := &TransportError{Op: "navigate", URL: "https://example.org", Err: base}
	require.ErrorIs(t, te, base)
	require.Contains(t, te.Error(), "navigate https://example.org")

	ee := &ExtractionError{URL: "u", Err: base}
	require.ErrorIs(t, ee, base)
}
