// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package coderr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorClassification(t *testing.T) {
	re := require.New(t)

	errNotFound := NewCodeError(NotFound, "table not found")
	re.True(Is(errNotFound, NotFound))
	re.False(Is(errNotFound, Internal))

	// Wrapping with messages keeps the cause.
	wrapped := errors.WithMessagef(errNotFound, "table:%s", "t1")
	re.True(Is(wrapped, NotFound))
	re.True(EqualsByValue(wrapped, errNotFound))

	// A new instance with cause keeps the code but is another value.
	withCause := errNotFound.WithCausef("tableID:%d", 1)
	re.True(Is(withCause, NotFound))
	re.False(EqualsByValue(withCause, errNotFound))
	re.Contains(withCause.Error(), "tableID:1")

	code, ok := GetCauseCode(errors.New("plain"))
	re.False(ok)
	re.Equal(Invalid, code)

	_, ok = GetCauseCode(nil)
	re.False(ok)
}

func TestToHTTPCode(t *testing.T) {
	re := require.New(t)

	re.Equal(http.StatusNotFound, NotFound.ToHTTPCode())
	re.Equal(http.StatusConflict, IllegalState.ToHTTPCode())
	re.Equal(http.StatusInternalServerError, Configuration.ToHTTPCode())
	re.Equal(http.StatusBadRequest, PrintHelpUsage.ToHTTPCode())
}
