package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	syncerrors "distsync.dev/distsync/internal/errors"
)

func TestUnknownStatusError(t *testing.T) {
	err := fmt.Errorf("relay: %w", syncerrors.NewUnknownStatusError("gitlab", "exploded"))

	require.ErrorIs(t, err, syncerrors.ErrUnknownStatus)
	require.ErrorIs(t, err, syncerrors.ErrConfiguration)
	require.Contains(t, err.Error(), `unmapped gitlab status "exploded"`)

	var typed *syncerrors.UnknownStatusError
	require.True(t, errors.As(err, &typed))
	require.Equal(t, "exploded", typed.Status)
}

func TestForgeError(t *testing.T) {
	t.Run("404 is not found", func(t *testing.T) {
		err := syncerrors.NewForgeError("get pr", "https://example.com/a/b", 404, errors.New("boom"))
		require.ErrorIs(t, err, syncerrors.ErrNotFound)
		require.NotErrorIs(t, err, syncerrors.ErrForbidden)
	})

	t.Run("401 and 403 are forbidden", func(t *testing.T) {
		for _, code := range []int{401, 403} {
			err := syncerrors.NewForgeError("set status", "u", code, nil)
			require.ErrorIs(t, err, syncerrors.ErrForbidden)
		}
	})

	t.Run("unwraps the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := syncerrors.NewForgeError("comment", "u", 0, cause)
		require.ErrorIs(t, err, cause)
		require.Equal(t, "forge comment failed for u: connection reset", err.Error())
	})
}

func TestConfigurationf(t *testing.T) {
	err := syncerrors.Configurationf("bad pattern %q", "[")
	require.ErrorIs(t, err, syncerrors.ErrConfiguration)
	require.Equal(t, `configuration error: bad pattern "["`, err.Error())
}
