package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	// Preserve the original code and retryability when wrapping a CacheError.
	if cacheErr, ok := err.(*CacheError); ok {
		return &CacheError{
			Op:        op,
			Component: component,
			Code:      cacheErr.Code,
			Retryable: cacheErr.Retryable,
			Metadata:  cacheErr.Metadata,
			Err:       cacheErr,
		}
	}
	return NewWithComponent(op, component, err)
}

// WithMetadata attaches key/value context to a CacheError and returns it.
// Non-CacheError values are returned unchanged.
func WithMetadata(err error, key string, value interface{}) error {
	cacheErr, ok := err.(*CacheError)
	if !ok {
		return err
	}
	if cacheErr.Metadata == nil {
		cacheErr.Metadata = make(map[string]interface{})
	}
	cacheErr.Metadata[key] = value
	return cacheErr
}
