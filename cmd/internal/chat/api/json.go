package chatapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error bodies always carry a machine-readable code next to the message, so
// clients can branch without parsing prose.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the envelope every failure response shares.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// writeJSON marshals before touching the ResponseWriter, so an encoding
// failure can still produce a clean 500 instead of a torn body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	body := errorResponse{}
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}

// decodeJSON reads exactly one JSON value from the request body. Unknown
// fields, oversized bodies, and trailing data are all errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("no body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	switch err := dec.Decode(dst); {
	case err != nil:
		return err
	case dec.More():
		return errors.New("trailing data after JSON value")
	}
	return nil
}
