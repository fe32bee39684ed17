package potemplate

import (
	"errors"
	"fmt"
	"strings"

	"poflow/internal"
)

var ErrEmptyWorkbook = internal.NewStageError(internal.CodeEmptyWorkbook, errors.New("workbook has no data rows"))

// HeaderMismatchError lists every header column that differs from the template.
type HeaderMismatchError struct {
	Mismatches []internal.HeaderMismatch
}

func (e *HeaderMismatchError) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		parts = append(parts, fmt.Sprintf("column %d expected %q, got %q", m.Index+1, m.Expected, m.Actual))
	}
	return "header mismatch: " + strings.Join(parts, "; ")
}

func (e *HeaderMismatchError) ErrorCode() internal.ErrorCode { return internal.CodeHeaderMismatch }
