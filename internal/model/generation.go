package model

import "time"

// GenerationStatus describes the lifecycle of a label generation job.
type GenerationStatus string

const (
	StatusQueued     GenerationStatus = "queued"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// BatchMode selects what happens when a single item fails its checks.
type BatchMode string

const (
	// ModeStrict rejects the whole batch on any item failure.
	ModeStrict BatchMode = "strict"
	// ModePartial skips failing items and reports them.
	ModePartial BatchMode = "partial"
)

// Numbering selects how serial numbers are assigned to paired labels.
type Numbering string

const (
	NumberingNone   Numbering = "none"
	NumberingLocal  Numbering = "local"
	NumberingGlobal Numbering = "global"
)

// DocumentKind is the declared container format of an input document.
type DocumentKind string

const (
	KindPDF  DocumentKind = "pdf"
	KindCSV  DocumentKind = "csv"
	KindTXT  DocumentKind = "txt"
	KindXLSX DocumentKind = "xlsx"
)

// Generation is a persisted generation job. Object keys point into the raw and
// processed buckets.
type Generation struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"ownerId"`
	Layout          string           `json:"layout"`
	Size            string           `json:"size"`
	Mode            BatchMode        `json:"mode"`
	Numbering       Numbering        `json:"numbering"`
	ItemsKey        string           `json:"-"`
	ItemsKind       DocumentKind     `json:"itemsKind"`
	CodesKey        string           `json:"-"`
	CodesKind       DocumentKind     `json:"codesKind"`
	OutputKey       *string          `json:"outputKey,omitempty"`
	Status          GenerationStatus `json:"status"`
	Pages           int              `json:"pages"`
	Skipped         int              `json:"skipped"`
	PreflightPassed bool             `json:"preflightPassed"`
	ErrorKind       *string          `json:"errorKind,omitempty"`
	ErrorMessage    *string          `json:"errorMessage,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Outcome is what a finished generation records about its batch.
type Outcome struct {
	OutputKey       string
	Pages           int
	Skipped         int
	PreflightPassed bool
}
