package archive

import (
	"acervo/preservation-api/internal/domain"
)

// TransferState is the status value reported by the archive for a transfer.
// It belongs to the remote state machine and is never persisted directly;
// use Outcome to translate it.
type TransferState string

const (
	RemoteStarted   TransferState = "INICIADA"
	RemotePreserved TransferState = "PRESERVADO"
	RemoteFailed    TransferState = "FALHA"

	// Values reported by stock Archivematica for failed units.
	RemoteNativeFailed   TransferState = "FAILED"
	RemoteNativeRejected TransferState = "REJECTED"
)

// Outcome classifies a remote state. Unknown values are treated as still in progress.
func (s TransferState) Outcome() domain.TransferOutcome {
	switch s {
	case RemotePreserved:
		return domain.OutcomeSucceeded
	case RemoteFailed, RemoteNativeFailed, RemoteNativeRejected:
		return domain.OutcomeFailed
	default:
		return domain.OutcomeInProgress
	}
}

// TransferStatus is a point-in-time snapshot of a remote transfer.
type TransferStatus struct {
	Status       TransferState `json:"status"`
	UUID         string        `json:"uuid"`
	SIPUUID      string        `json:"sip_uuid,omitempty"`
	Microservice string        `json:"microservice"`
	Directory    string        `json:"directory"`
	Path         string        `json:"path"`
	Message      string        `json:"message"`
	Type         string        `json:"type"`
	Name         string        `json:"name"`
}

// TransferSummary is one entry of a transfer listing.
type TransferSummary struct {
	UUID      string `json:"uuid"`
	Directory string `json:"directory,omitempty"`
	Type      string `json:"type,omitempty"`
}

// TransferListing is the response of the unapproved and completed listings.
type TransferListing struct {
	Message string            `json:"message,omitempty"`
	Results []TransferSummary `json:"results"`
}

// Contains reports whether the listing holds a transfer with the given id.
func (l *TransferListing) Contains(transferID string) bool {
	if l == nil {
		return false
	}
	for _, r := range l.Results {
		if r.UUID == transferID {
			return true
		}
	}
	return false
}

// Artifact is a downloaded preserved package.
type Artifact struct {
	Content     []byte
	ContentType string
	FileName    string
}

type startTransferRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Accession string   `json:"accession"`
	Paths     []string `json:"paths"`
}

type startTransferResponse struct {
	UUID    string `json:"uuid"`
	Message string `json:"message,omitempty"`
}

type approveTransferRequest struct {
	Type      string `json:"type"`
	Directory string `json:"directory"`
}

// Ack is the generic acknowledgement returned by mutating endpoints.
type Ack struct {
	Message string `json:"message,omitempty"`
	UUID    string `json:"uuid,omitempty"`
}

type processIngestRequest struct {
	ProcessingConfig string `json:"processing_config"`
}
