package models

import (
	"fmt"
	"time"
)

// CaptureStatus is a coarse state for UI and diagnostics. Drains do not depend
// on strict transitions between these values.
type CaptureStatus string

const (
	CaptureQueued     CaptureStatus = "queued"
	CaptureProcessing CaptureStatus = "processing"
	CaptureFailed     CaptureStatus = "failed"
)

// ParseCaptureStatus validates a status string.
func ParseCaptureStatus(s string) (CaptureStatus, error) {
	switch st := CaptureStatus(s); st {
	case CaptureQueued, CaptureProcessing, CaptureFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown capture status %q", s)
	}
}

// QueuedCapture is a photo buffered locally until the analyze/upload pipeline
// has processed it. Checksum is unique across live entries.
type QueuedCapture struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	MimeType  string        `json:"mime_type"`
	Status    CaptureStatus `json:"status"`
	Checksum  string        `json:"checksum"` // hex SHA-256 of the blob
	Size      int64         `json:"size"`
	Filename  string        `json:"filename,omitempty"`

	// Blob is loaded from the blob store on read and never serialized with
	// the record.
	Blob []byte `json:"-"`
}
