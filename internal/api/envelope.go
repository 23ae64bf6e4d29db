package api

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// EnvelopeVersion is bumped whenever the envelope shape changes.
const EnvelopeVersion = 1

// APIEnvelope wraps every successful response and plain errors.
type APIEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
	Version int    `json:"v"`
	Success bool   `json:"success"`
}

// APIErrorEnvelope wraps an APIError so clients can branch on its code.
type APIErrorEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Details any    `json:"details,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Version int    `json:"v"`
	Success bool   `json:"success"`
}

// EnvelopeTransformer is a huma transformer that puts every response body
// into the versioned envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	switch body := v.(type) {
	case *APIError:
		return APIErrorEnvelope{
			Version: EnvelopeVersion,
			Code:    body.Code,
			Message: body.Message,
			Error:   body.Message,
			Details: body.Details,
		}, nil
	case error:
		return APIEnvelope{Version: EnvelopeVersion, Error: body.Error()}, nil
	}

	return APIEnvelope{
		Version: EnvelopeVersion,
		Success: strings.HasPrefix(status, "2"),
		Data:    v,
	}, nil
}
