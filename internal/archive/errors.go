package archive

import (
	"errors"
	"fmt"
)

// Stage errors. Every failure returned by Client wraps exactly one of these
// together with the underlying cause.
var (
	ErrRemoteStartFailure    = errors.New("archive: transfer start failed")
	ErrRemoteApproveFailure  = errors.New("archive: transfer approval failed")
	ErrRemoteStatusFailure   = errors.New("archive: transfer status unavailable")
	ErrRemoteDownloadFailure = errors.New("archive: package download failed")
	ErrRemoteIngestFailure   = errors.New("archive: ingest processing failed")
	ErrRemoteCancelFailure   = errors.New("archive: transfer removal failed")
	ErrTransferNotFound      = errors.New("archive: transfer not found")

	// ErrArtifactTooLarge is wrapped together with ErrRemoteDownloadFailure.
	ErrArtifactTooLarge = errors.New("archive: package exceeds the download limit")
)

// StatusError describes a non-success HTTP response from the archive.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
