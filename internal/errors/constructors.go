package errors

// Convenience functions for common error patterns

// Config errors

func ConfigRequired(field string) *BuildWatchError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *BuildWatchError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Queue backend errors

func QueueSubmitError(task string, cause error) *BuildWatchError {
	return Wrap(cause, CategoryQueue, SeverityError, "job submission failed").
		WithContext("task", task)
}

func QueueStatusError(jobID string, cause error) *BuildWatchError {
	return WrapRetryable(cause, CategoryQueue, SeverityWarning, "job status query failed").
		WithContext("job_id", jobID)
}

// Catalog errors

func CatalogFetchError(url string, cause error) *BuildWatchError {
	return WrapRetryable(cause, CategoryCatalog, SeverityWarning, "catalog fetch failed").
		WithContext("url", url)
}

func MetadataMissing(target string) *BuildWatchError {
	return New(CategoryCatalog, SeverityWarning, "no metadata for target").
		WithContext("target", target)
}

// Storage errors

func StorageError(operation, key string, cause error) *BuildWatchError {
	return Wrap(cause, CategoryStorage, SeverityError, "durable store operation failed").
		WithContext("operation", operation).
		WithContext("key", key)
}

// Daemon errors

func DaemonError(message string) *BuildWatchError {
	return New(CategoryDaemon, SeverityError, message)
}
