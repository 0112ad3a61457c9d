package estimator

import (
	"errors"
	"fmt"
)

// ErrNoEstimateAvailable is returned while the window holds no rows.
var ErrNoEstimateAvailable = errors.New("estimator: no estimate available")

// StorageError reports a failure of the window store. The estimator never
// retries or masks it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("estimator storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err in a StorageError for op. Nil errors and the
// no-estimate sentinel pass through unchanged.
func WrapStorage(op string, err error) error {
	if err == nil || errors.Is(err, ErrNoEstimateAvailable) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the window store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
