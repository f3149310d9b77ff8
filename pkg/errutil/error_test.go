package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("sentinel")

func TestHelpersWrapCause(t *testing.T) {
	err := Conflict("task already assigned", errSentinel)
	require.ErrorIs(t, err, errSentinel)

	var base BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, StatusConflict, base.Code)
	require.Equal(t, http.StatusConflict, base.Code.HTTPStatus())
}

func TestFromError(t *testing.T) {
	require.Equal(t, StatusTimeout, FromError(fmt.Errorf("query: %w", context.DeadlineExceeded)).Code)
	require.Equal(t, StatusClientClosedRequest, FromError(context.Canceled).Code)
	require.Equal(t, StatusInternal, FromError(errors.New("boom")).Code)

	wrapped := fmt.Errorf("outer: %w", NotFound("task not found", nil))
	require.Equal(t, StatusNotFound, FromError(wrapped).Code)
}

func TestJSONHidesInternalCause(t *testing.T) {
	body := Internal("internal error", errors.New("dsn password=secret")).(BaseError).JSON()
	inner := body.(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "internal error", inner["message"])
}
