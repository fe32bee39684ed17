package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"poflow/internal"
	"poflow/internal/logging"
)

type response struct {
	Success bool               `json:"success"`
	Data    any                `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Code    internal.ErrorCode `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Success: status < 300, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code internal.ErrorCode, msg string) {
	logging.FromContext(r.Context()).Warn("request error", "path", r.URL.Path, "status", status, "code", code, "error", msg)
	writeJSON(w, status, response{Error: msg, Code: code})
}

// writeStageError reports a failed stage with the status its code maps to.
func writeStageError(w http.ResponseWriter, r *http.Request, err error, data any) {
	code := internal.CodeOf(err)
	status := statusFor(code)
	logging.FromContext(r.Context()).Warn("stage failed", "path", r.URL.Path, "status", status, "code", code, "error", err)
	writeJSON(w, status, response{Data: data, Error: err.Error(), Code: code})
}

func statusFor(code internal.ErrorCode) int {
	switch code {
	case internal.CodeEmptyWorkbook, internal.CodeHeaderMismatch,
		internal.CodeStructuralValidationFailed, internal.CodeBusinessValidationFailed:
		return http.StatusBadRequest
	case internal.CodeSheetNotFound:
		return http.StatusUnprocessableEntity
	case internal.CodeDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pdf":  "application/pdf",
}

// serveAttachment sends the file at path as a download named name.
func serveAttachment(w http.ResponseWriter, r *http.Request, path, name string) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if ct, ok := contentTypes[filepath.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFile(w, r, path)
}

// splitList accepts comma or semicolon separated values.
func splitList(values ...string) []string {
	out := []string{}
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
