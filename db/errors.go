package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Code int

const (
	ErrCodeUnknown Code = iota
	ErrCodeNoRows
	ErrCodeClosed
)

type codedErr struct {
	code Code
	err  error
}

func (e *codedErr) Error() string {
	return fmt.Sprintf("db error %d: %s", e.code, e.err)
}

func (e *codedErr) Unwrap() error {
	return e.err
}

// ErrCode reports the classification parseErr attached to e.
func ErrCode(e error) Code {
	var err *codedErr
	if errors.As(e, &err) {
		return err.code
	}

	return ErrCodeUnknown
}

func parseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return &codedErr{code: ErrCodeNoRows, err: err}
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled):
		return &codedErr{code: ErrCodeClosed, err: err}
	default:
		return err
	}
}
