package adminapi

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 Problem Details response body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

var problemTypes = map[int]string{
	http.StatusUnauthorized:        "unauthorized",
	http.StatusBadRequest:          "bad-request",
	http.StatusNotFound:            "not-found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation-error",
	http.StatusInternalServerError: "internal-error",
	http.StatusServiceUnavailable:  "service-unavailable",
}

// WriteProblem writes an RFC 7807 Problem Details response for status.
func WriteProblem(w http.ResponseWriter, status int, detail string) {
	slug, ok := problemTypes[status]
	if !ok {
		slug = "unknown"
	}
	p := Problem{
		Type:   "https://migrant.dev/errors/" + slug,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}
