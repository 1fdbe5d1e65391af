package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(CategoryDaemon, SeverityError, "loop exited unexpectedly")
	require.Equal(t, "daemon (error): loop exited unexpectedly", plain.Error())

	wrapped := Wrap(fmt.Errorf("connection refused"), CategoryQueue, SeverityError, "job submission failed")
	require.Equal(t, "queue (error): job submission failed: connection refused", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := QueueStatusError("job-42", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestClassification(t *testing.T) {
	require.True(t, IsRetryable(CatalogFetchError("http://example.invalid", fmt.Errorf("503"))))
	require.True(t, IsRetryable(QueueStatusError("job-1", fmt.Errorf("down"))))
	require.False(t, IsRetryable(QueueSubmitError("compile", fmt.Errorf("down"))))
	require.False(t, IsRetryable(fmt.Errorf("plain")))

	require.True(t, IsCategory(MetadataMissing("ghost/board"), CategoryCatalog))
	require.False(t, IsCategory(fmt.Errorf("plain"), CategoryCatalog))

	require.Equal(t, CategoryStorage, GetCategory(StorageError("set", "cursor", fmt.Errorf("disk full"))))
	require.Equal(t, CategoryInternal, GetCategory(fmt.Errorf("plain")))
}

func TestWithContext(t *testing.T) {
	err := ValidationFailed("poll_interval", "must be positive")
	require.Equal(t, "poll_interval", err.Context["field"])
	require.Equal(t, "must be positive", err.Context["reason"])

	err = err.WithContext("value", -1)
	require.Equal(t, -1, err.Context["value"])
}
