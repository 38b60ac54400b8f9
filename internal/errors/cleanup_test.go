package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCloser struct {
	err    error
	closed bool
}

func (s *stubCloser) Close() error {
	s.closed = true
	return s.err
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *stubCloser
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &stubCloser{}},
		{name: "close failure", closer: &stubCloser{err: errors.New("disk full")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var closer io.Closer
			if tt.closer != nil {
				closer = tt.closer
			}

			DeferClose(zerolog.New(&buf), closer, "close report")

			if tt.closer != nil {
				assert.True(t, tt.closer.closed)
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
			if tt.wantLogged {
				assert.Contains(t, buf.String(), "close report")
				assert.Contains(t, buf.String(), "disk full")
			}
		})
	}
}

func TestDeferRollback_Nil(t *testing.T) {
	var buf bytes.Buffer
	DeferRollback(zerolog.New(&buf), nil)
	assert.Zero(t, buf.Len())
}

func TestCloseInto(t *testing.T) {
	t.Run("keeps nil on success", func(t *testing.T) {
		var err error
		CloseInto(&err, &stubCloser{}, "file")
		assert.NoError(t, err)
	})

	t.Run("joins close failure", func(t *testing.T) {
		first := errors.New("write failed")
		closeErr := errors.New("close failed")
		err := first
		CloseInto(&err, &stubCloser{err: closeErr}, "file")
		require.Error(t, err)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, closeErr)
		assert.Contains(t, err.Error(), "close file")
	})
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil, "init") })
	assert.PanicsWithValue(t, "init: boom", func() { Must(errors.New("boom"), "init") })
}
