package errors_test

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/errors"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		engineErr := stderrors.New("database is locked")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{
				err:    errors.New(errors.ErrUnknownResource, "no table"),
				target: errors.ErrUnknownResource,
				exp:    true,
			},
			{
				err:    errors.New(errors.ErrUnknownResource, "no table"),
				target: errors.ErrInvalidQuery,
				exp:    false,
			},
			{
				err:    errors.Wrap(errors.New(errors.ErrInvalidQuery, "bad"), "with message"),
				target: errors.ErrInvalidQuery,
				exp:    true,
			},
			{
				err:    errors.Coded(engineErr, errors.ErrWriteConflict, "commit"),
				target: errors.ErrWriteConflict,
				exp:    true,
			},
			{
				err:    engineErr,
				target: errors.ErrWriteConflict,
				exp:    false,
			},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				assert.Equal(t, test.exp, errors.Is(test.err, test.target))
			})
		}
	})

	t.Run("CodedKeepsCause", func(t *testing.T) {
		engineErr := stderrors.New("deadlock detected")
		err := errors.Wrap(errors.Coded(engineErr, errors.ErrWriteConflict, "update"), "batch")

		assert.True(t, stderrors.Is(err, engineErr))
		assert.Equal(t, errors.ErrWriteConflict, errors.CodeOf(err))
		assert.Contains(t, err.Error(), "deadlock detected")
		assert.Nil(t, errors.Coded(nil, errors.ErrWriteConflict, "noop"))
	})

	t.Run("CodeOfUncoded", func(t *testing.T) {
		assert.Equal(t, errors.Code(""), errors.CodeOf(stderrors.New("plain")))
		assert.Equal(t, errors.Code(""), errors.CodeOf(nil))
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		err := errors.Wrap(errors.Newf(errors.ErrUnknownResource, "table %q", "books"), "route")

		var out map[string]string
		require.NoError(t, json.Unmarshal([]byte(errors.MarshalJSON(err)), &out))
		assert.Equal(t, "UnknownResource", out["code"])
		assert.Equal(t, `table "books"`, out["message"])
		assert.Equal(t, `route: table "books"`, out["wrapped"])

		require.NoError(t, json.Unmarshal([]byte(errors.MarshalJSON(stderrors.New("boom"))), &out))
		assert.Equal(t, "", out["code"])
		assert.Equal(t, "boom", out["message"])
	})
}
