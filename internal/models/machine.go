// Package models provides data model definitions for FleetSync.
package models

// MachineStatus represents the operational state of a machine.
type MachineStatus string

const (
	MachineOperational MachineStatus = "operational"
	MachineInWorkshop  MachineStatus = "in_workshop"
	MachineRetired     MachineStatus = "retired"
)

// Machine is one piece of fleet equipment (skidder, harvester, loader).
// The remote service owns this record; the agent only reads it and issues
// partial updates such as the hour-meter counter.
type Machine struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Model     string        `json:"model"`
	Hours     float64       `json:"hours"`
	Status    MachineStatus `json:"status"`
	UpdatedAt int64         `json:"updated_at"`
}
