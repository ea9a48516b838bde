// Package models provides data model definitions for FleetSync.
package models

import (
	"encoding/json"
	"time"
)

// Kind identifies the remote entity type a mutation targets.
type Kind string

const (
	KindRecord  Kind = "record"
	KindMessage Kind = "message"
	KindMachine Kind = "machine"
)

// Op identifies the remote operation a mutation performs.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// MutationStatus represents the lifecycle state of a pending mutation.
type MutationStatus string

const (
	// MutationPending means the mutation is waiting to be replayed.
	MutationPending MutationStatus = "pending"
	// MutationStalled means the mutation exhausted its retries and needs
	// manual resolution before it will be replayed again.
	MutationStalled MutationStatus = "stalled"
)

// PendingMutation is one queued write that has not been acknowledged by
// the remote service. The payload is carried verbatim across retries; only
// the retry bookkeeping fields change between attempts.
type PendingMutation struct {
	LocalID     string          `json:"local_id"`
	Kind        Kind            `json:"kind"`
	Op          Op              `json:"op"`
	TargetID    string          `json:"target_id,omitempty"` // remote id for updates
	Payload     json.RawMessage `json:"payload"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt int64           `json:"next_retry_at"`
	Status      MutationStatus  `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// Ready reports whether the mutation is due for replay at the given time.
func (m *PendingMutation) Ready(now time.Time) bool {
	return m.Status == MutationPending && m.NextRetryAt <= now.Unix()
}

// AttachmentClass categorizes a staged attachment for upload resolution.
type AttachmentClass string

const (
	AttachmentImage AttachmentClass = "image"
	AttachmentVideo AttachmentClass = "video"
	AttachmentFile  AttachmentClass = "file"
)

// Attachment references a staged binary held in the local blob bucket
// until its mutation is replayed. The body itself never lives inside the
// queue snapshot.
type Attachment struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Class AttachmentClass `json:"class"`
	Size  int64           `json:"size"`
}

// URLField returns the payload field the resolved upload URL is written to.
func (a Attachment) URLField() string {
	switch a.Class {
	case AttachmentImage:
		return "photo_url"
	case AttachmentVideo:
		return "video_url"
	default:
		return "file_url"
	}
}
