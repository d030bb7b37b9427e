// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ProblemDetail represents RFC7807 problem details. Extensions carries
// optional machine-readable members such as validation violations; they are
// serialized as top-level fields per the RFC.
type ProblemDetail struct {
	Type       string `json:"type,omitempty"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Extensions map[string]any
}

// MarshalJSON flattens extension members into the problem object.
func (p ProblemDetail) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4+len(p.Extensions))
	for key, value := range p.Extensions {
		out[key] = value
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	return json.Marshal(out)
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	ProblemWith(w, status, title, detail, nil)
}

// ProblemWith sends a problem response carrying extension members.
func ProblemWith(w http.ResponseWriter, status int, title, detail string, extensions map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: extensions,
	})
}

// DecodeJSON decodes a JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
