// Package models provides data model definitions for FleetSync.
package models

// Message is one team message-board post.
type Message struct {
	ID            string `json:"id,omitempty"`
	Author        string `json:"author"`
	Body          string `json:"body"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	PostedAt      int64  `json:"posted_at,omitempty"`
}
