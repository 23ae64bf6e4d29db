package processor

import (
	"time"

	domainerrors "github.com/ddasapp/ddas-agent/internal/errors"
	"github.com/ddasapp/ddas-agent/internal/fingerprint"
	"github.com/ddasapp/ddas-agent/internal/id"
)

// Outcome is the terminal verdict for one processed file.
type Outcome string

const (
	// OutcomeDuplicate means the registry already holds this content.
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeUploaded means the file was new and the registry accepted it.
	OutcomeUploaded Outcome = "UPLOADED"
	// OutcomeFailed means processing stopped; Code says why.
	OutcomeFailed Outcome = "FAILED"
)

// State is a step in a single processing attempt.
type State string

// Processing states, in the order an attempt moves through them.
const (
	StateReady     State = "READY"
	StateChecking  State = "CHECKING"
	StateUploading State = "UPLOADING"
)

// Result is the outcome of handling one file. It is built once by the
// Processor and never modified afterwards.
type Result struct {
	StartedAt        time.Time               `json:"started_at"`
	Err              error                   `json:"-"`
	AttemptID        string                  `json:"attempt_id"`
	Outcome          Outcome                 `json:"outcome"`
	Code             domainerrors.Code       `json:"code,omitempty"`
	Fingerprint      fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Path             string                  `json:"path"`
	Filename         string                  `json:"filename"`
	OriginalFilename string                  `json:"original_filename,omitempty"`
	ContentType      string                  `json:"content_type,omitempty"`
	Message          string                  `json:"message"`
	Size             int64                   `json:"size"`
	ElapsedMS        int64                   `json:"elapsed_ms"`
}

// Failed reports whether the attempt ended in FAILED.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// AsError returns the failure as a domain error, or nil for a successful result.
func (r Result) AsError() *domainerrors.Error {
	if !r.Failed() {
		return nil
	}
	var domainErr *domainerrors.Error
	if domainerrors.As(r.Err, &domainErr) {
		return domainErr.WithDetails(r)
	}
	return &domainerrors.Error{Code: r.Code, Message: r.Message, Details: r}
}

// Rejected builds a FAILED result for a request that was refused before
// any processing started.
func Rejected(path string, err error) Result {
	a := &attempt{started: time.Now(), path: path}
	if attemptID, genErr := id.Generate(id.PrefixAttempt); genErr == nil {
		a.id = attemptID
	}
	return a.fail(err)
}
