package pipeline

import "github.com/metaneutrons/snapdog2-sub010/internal/apperr"

// Result is the outcome of a command: success, or exactly one typed error.
type Result struct {
	Operation string
	Err       *apperr.Error
}

// OK reports success.
func (r Result) OK() bool { return r.Err == nil }

// AsError returns the failure as an error, or nil on success.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Value is the outcome of a query.
type Value[T any] struct {
	Result
	Data T
}
