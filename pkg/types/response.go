// Package types holds the JSON envelopes shared by every API response.
package types

// SuccessEnvelope wraps successful response payloads under a "data" key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the wire form of a typed service error. Details is only
// populated for codes whose metadata allows exposing it.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError under an "error" key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
