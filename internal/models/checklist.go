// Package models provides data model definitions for FleetSync.
package models

// ItemStatus is the outcome recorded for one checklist item.
type ItemStatus string

const (
	ItemOK     ItemStatus = "ok"
	ItemDefect ItemStatus = "defect"
	ItemNA     ItemStatus = "na"
)

// ChecklistItem is one inspected point within a checklist section.
type ChecklistItem struct {
	Name   string     `json:"name"`
	Status ItemStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// ChecklistSection groups related checklist items (brakes, fluids,
// fire equipment). Sections are typed rather than open maps so shape
// errors surface at compile time.
type ChecklistSection struct {
	Name  string          `json:"name"`
	Items []ChecklistItem `json:"items"`
}

// ChecklistRecord is one operator safety-checklist submission for a
// machine. PhotoURL is assigned by the remote service after upload and is
// excluded from duplicate comparison.
type ChecklistRecord struct {
	ID        string             `json:"id,omitempty"`
	MachineID string             `json:"machine_id"`
	Operator  string             `json:"operator"`
	Hours     float64            `json:"hours"`
	Sections  []ChecklistSection `json:"sections"`
	Notes     string             `json:"notes,omitempty"`
	PhotoURL  string             `json:"photo_url,omitempty"`
	CreatedAt int64              `json:"created_at,omitempty"`
}
