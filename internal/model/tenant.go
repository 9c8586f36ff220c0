package model

import "time"

// Tenant is the top-level isolation boundary. Every other entity is scoped
// to exactly one tenant.
type Tenant struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sender is a tenant-scoped identity that originates events.
type Sender struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Descriptor is the value sent in the Metorial-Sender header.
func (s *Sender) Descriptor() string {
	return s.Name + " (" + s.ID + ")"
}
