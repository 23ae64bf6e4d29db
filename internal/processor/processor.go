// Package processor resolves a ready file against the duplicate registry.
//
// One call to Process runs a fixed sequence:
//  1. Fingerprint the file with a streaming SHA-256
//  2. Ask the registry whether the fingerprint is known (advisory)
//  3. Upload the file unless the registry confirmed a duplicate
//
// Process never returns an error. Every fault is folded into a Result with
// outcome FAILED and a domain error code.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	domainerrors "github.com/ddasapp/ddas-agent/internal/errors"
	"github.com/ddasapp/ddas-agent/internal/fingerprint"
	"github.com/ddasapp/ddas-agent/internal/id"
	"github.com/ddasapp/ddas-agent/internal/registry"
)

// Registry is the remote duplicate registry as seen by the Processor.
type Registry interface {
	CheckFingerprint(ctx context.Context, fp fingerprint.Fingerprint, credential string) (registry.CheckResult, error)
	Upload(ctx context.Context, req registry.UploadRequest) (registry.UploadResult, error)
}

// Processor fingerprints files and reconciles them with the registry.
type Processor struct {
	registry Registry
	logger   *slog.Logger

	// inflight holds every path with an attempt running. A second request
	// for the same path is refused, not queued.
	inflight *SyncMap[string, struct{}]
}

// New creates a Processor backed by reg.
func New(reg Registry, logger *slog.Logger) *Processor {
	return &Processor{
		registry: reg,
		logger:   logger,
		inflight: NewSyncMap[string, struct{}](),
	}
}

// InFlight returns the paths currently being processed.
func (p *Processor) InFlight() []string {
	return p.inflight.Keys(strings.Compare)
}

// attempt carries the mutable state of one Process call until the Result is built.
type attempt struct {
	started     time.Time
	id          string
	path        string
	filename    string
	contentType string
	fp          fingerprint.Fingerprint
	size        int64
}

// Process handles one file. It performs at most one check call and at most
// one upload call.
func (p *Processor) Process(ctx context.Context, path, credential string) (result Result) {
	a := &attempt{started: time.Now(), path: path}
	if attemptID, err := id.Generate(id.PrefixAttempt); err == nil {
		a.id = attemptID
	}

	log := p.logger.With("attempt_id", a.id, "path", path)

	defer func() {
		if r := recover(); r != nil {
			log.Error("processing panicked", "panic", r)
			result = a.fail(domainerrors.Internal(fmt.Sprintf("processing panicked: %v", r)))
		}
	}()

	if err := validateInput(path, credential); err != nil {
		return a.fail(err)
	}
	a.path = filepath.Clean(path)
	a.filename = norm.NFC.String(filepath.Base(a.path))

	if _, loaded := p.inflight.LoadOrStore(a.path, struct{}{}); loaded {
		log.Debug("path already being processed, skipping")
		return a.fail(domainerrors.Busyf("%s is already being processed", a.filename))
	}
	defer p.inflight.Delete(a.path)

	// READY: fingerprint.
	info, err := os.Stat(a.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return a.fail(domainerrors.NotFoundf("file not found: %s", a.path))
	case err != nil:
		return a.fail(domainerrors.Wrap(err, domainerrors.CodeFingerprint, "stat failed"))
	case info.IsDir():
		return a.fail(domainerrors.Inputf("%s is a directory", a.path))
	}

	log.Info("fingerprinting file", "size", humanize.IBytes(uint64(info.Size())))

	sum, err := fingerprint.File(ctx, a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return a.fail(domainerrors.NotFoundf("file vanished before processing: %s", a.path))
		}
		return a.fail(domainerrors.Wrap(err, domainerrors.CodeFingerprint, "could not calculate file fingerprint"))
	}
	a.fp = sum.Fingerprint
	a.size = sum.Size
	a.contentType = detectContentType(a.path)

	log = log.With("fingerprint", a.fp.Short())

	// CHECKING: advisory lookup. Any failure here falls through to upload.
	log.Debug("checking registry", "state", StateChecking)
	check, err := p.registry.CheckFingerprint(ctx, a.fp, credential)
	switch {
	case err != nil:
		log.Warn("duplicate check failed, uploading anyway", "error", err)
	case check.Exists:
		original := check.OriginalFilename
		if original == "" {
			original = "unknown"
		}
		log.Info("duplicate detected by fingerprint", "original_filename", original)
		return a.finish(OutcomeDuplicate, original,
			fmt.Sprintf("File '%s' already exists as '%s'", a.filename, original))
	default:
		log.Debug("no duplicate found, uploading file")
	}

	// UPLOADING: definitive.
	log.Debug("uploading file", "state", StateUploading)
	upload, err := p.registry.Upload(ctx, registry.UploadRequest{
		Path:        a.path,
		Filename:    a.filename,
		ContentType: a.contentType,
		Credential:  credential,
		Size:        a.size,
	})
	if err != nil {
		return a.fail(classifyUploadError(err))
	}

	switch upload.Outcome {
	case registry.OutcomeDuplicate:
		msg := upload.Message
		if msg == "" {
			msg = fmt.Sprintf("File '%s' already exists", a.filename)
		}
		log.Info("duplicate reported at upload", "status", upload.Status)
		return a.finish(OutcomeDuplicate, upload.OriginalFilename, msg)
	default:
		log.Info("file uploaded", "status", upload.Status)
		return a.finish(OutcomeUploaded, "", fmt.Sprintf("File '%s' uploaded successfully", a.filename))
	}
}

// validateInput rejects a request before any I/O happens.
func validateInput(path, credential string) error {
	if path == "" {
		return domainerrors.Input("file path is required")
	}
	if !filepath.IsAbs(path) {
		return domainerrors.Inputf("file path must be absolute: %s", path)
	}
	if credential == "" {
		return domainerrors.Input("authentication token is required")
	}
	return nil
}

// classifyUploadError maps an upload failure onto the error taxonomy.
func classifyUploadError(err error) *domainerrors.Error {
	var statusErr *registry.StatusError
	switch {
	case errors.As(err, &statusErr):
		return domainerrors.Wrapf(err, domainerrors.CodeRemoteRejected, "upload failed: HTTP %d", statusErr.Status)
	case errors.Is(err, os.ErrNotExist):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, "file vanished before upload")
	case errors.Is(err, context.DeadlineExceeded):
		return domainerrors.Wrap(err, domainerrors.CodeNetwork, "upload timed out")
	default:
		return domainerrors.Wrap(err, domainerrors.CodeNetwork, "upload request failed")
	}
}

// detectContentType sniffs the file head. Unknown types upload as octet-stream.
func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

func (a *attempt) finish(outcome Outcome, original, msg string) Result {
	return Result{
		StartedAt:        a.started,
		AttemptID:        a.id,
		Outcome:          outcome,
		Fingerprint:      a.fp,
		Path:             a.path,
		Filename:         a.filename,
		OriginalFilename: original,
		ContentType:      a.contentType,
		Message:          msg,
		Size:             a.size,
		ElapsedMS:        time.Since(a.started).Milliseconds(),
	}
}

func (a *attempt) fail(err error) Result {
	r := a.finish(OutcomeFailed, "", err.Error())
	r.Code = domainerrors.CodeOf(err)
	r.Err = err
	if r.Filename == "" && a.path != "" {
		r.Filename = filepath.Base(a.path)
	}
	return r
}
