package internal

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeEmptyWorkbook              ErrorCode = "EmptyWorkbook"
	CodeHeaderMismatch             ErrorCode = "HeaderMismatch"
	CodeStructuralValidationFailed ErrorCode = "StructuralValidationFailed"
	CodeBusinessValidationFailed   ErrorCode = "BusinessValidationFailed"
	CodePersistenceFailed          ErrorCode = "PersistenceFailed"
	CodeSheetNotFound              ErrorCode = "SheetNotFound"
	CodeConversionFailed           ErrorCode = "ConversionFailed"
	CodeDispatchFailed             ErrorCode = "DispatchFailed"
)

// StageError tags an error with the caller-visible code of the stage that produced it.
type StageError struct {
	Code ErrorCode
	Err  error
}

func NewStageError(code ErrorCode, err error) *StageError {
	return &StageError{Code: code, Err: err}
}

func Errorf(code ErrorCode, format string, args ...any) *StageError {
	return &StageError{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) ErrorCode() ErrorCode { return e.Code }

type coded interface {
	ErrorCode() ErrorCode
}

// CodeOf returns the code of the first coded error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
