package models

import "time"

// Tenant is the isolation unit. Every other row is scoped to a tenant UUID;
// a single default tenant is acceptable for single-fund deployments.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
