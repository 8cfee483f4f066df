package domain

import (
	"time"
)

// DocumentStatus is the local lifecycle state of a document under preservation.
// It is deliberately a different type from the archive's transfer state; the two
// are related only through StatusForOutcome.
type DocumentStatus string

const (
	StatusStarted   DocumentStatus = "INICIADA"
	StatusPreserved DocumentStatus = "PRESERVADO"
	StatusFailed    DocumentStatus = "FALHA"
)

// IsTerminal reports whether no further status transitions may happen.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusPreserved || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusPreserved, StatusFailed:
		return true
	}
	return false
}

// TransferOutcome is the classification of one observation of a remote transfer.
type TransferOutcome int

const (
	OutcomeInProgress TransferOutcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o TransferOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "in_progress"
	}
}

// StatusForOutcome maps a transfer outcome onto the local document status.
// Every outcome has exactly one status.
func StatusForOutcome(o TransferOutcome) DocumentStatus {
	switch o {
	case OutcomeSucceeded:
		return StatusPreserved
	case OutcomeFailed:
		return StatusFailed
	default:
		return StatusStarted
	}
}

// Metadata holds the descriptive fields of a document ("metadados").
type Metadata struct {
	Keyword     string `bson:"keyword" json:"keyword"`
	Category    string `bson:"category" json:"category"`
	Description string `bson:"description" json:"description"`
	Author      string `bson:"author" json:"author"`
}

// Document represents one user-submitted artifact handed to the archive.
type Document struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	UserID   string `bson:"userId" json:"userId"` // Owner, never changes
	Name     string `bson:"name" json:"name"`
	FilePath string `bson:"filePath" json:"filePath"` // Transfer source, never changes

	// ArchivematicaID is the remote transfer id. Nil until the archive accepted the transfer.
	ArchivematicaID *string        `bson:"archivematicaId" json:"archivematicaId"`
	Status          DocumentStatus `bson:"status" json:"status"`

	Description      string     `bson:"description" json:"description"`
	Metadata         Metadata   `bson:"metadados" json:"metadados"`
	UploadDate       time.Time  `bson:"uploadDate" json:"uploadDate"`
	PreservationDate *time.Time `bson:"preservationDate,omitempty" json:"preservationDate,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// TransferID returns the remote transfer id or "" when none is recorded.
func (d *Document) TransferID() string {
	if d.ArchivematicaID == nil {
		return ""
	}
	return *d.ArchivematicaID
}

// IsDownloadable reports whether the preserved package can be retrieved.
func (d *Document) IsDownloadable() bool {
	return d.Status == StatusPreserved && d.TransferID() != ""
}

// DocumentPatch carries the descriptive fields an owner may change.
// Nil fields are left untouched.
type DocumentPatch struct {
	Name             *string
	Description      *string
	Metadata         *Metadata
	UploadDate       *time.Time
	PreservationDate *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p DocumentPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Metadata == nil &&
		p.UploadDate == nil && p.PreservationDate == nil
}

// DocumentFilter selects documents of one owner. Empty fields do not constrain.
// Name, Keyword and Description match case-insensitively as substrings,
// Category and Status match exactly.
type DocumentFilter struct {
	UserID      string
	Name        string
	Category    string
	Keyword     string
	Description string
	Status      DocumentStatus
	StartDate   *time.Time // Inclusive lower bound on UploadDate
	EndDate     *time.Time // Inclusive upper bound on UploadDate
}
