package models

import "time"

// Kind distinguishes the two variants of a versioned entity.
type Kind string

const (
	KindSecret   Kind = "secret"
	KindVariable Kind = "variable"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	return k == KindSecret || k == KindVariable
}

// Plural returns the collection name used in paths and policies ("secrets", "variables").
func (k Kind) Plural() string {
	return string(k) + "s"
}

// RotationPolicy is the fixed-hour rotation literal attached to an entity.
type RotationPolicy string

const (
	RotateNever RotationPolicy = "never"
	Rotate24h   RotationPolicy = "24"
	Rotate168h  RotationPolicy = "168"
	Rotate720h  RotationPolicy = "720"
	Rotate8760h RotationPolicy = "8760"
)

// Workspace is the top-level tenant.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project belongs to one workspace and owns environments and entities.
type Project struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Environment is a named stage (dev, staging, prod) inside a project.
type Environment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entity is a secret or variable. Its value lives in revisions, never on the entity itself.
type Entity struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	Name            string         `json:"name"`
	Slug            string         `json:"slug"`
	ProjectID       string         `json:"projectId"`
	Note            *string        `json:"note,omitempty"`
	RotateAfter     RotationPolicy `json:"rotateAfter"`
	RotateAt        *time.Time     `json:"rotateAt,omitempty"`
	LastUpdatedByID string         `json:"lastUpdatedById"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Revision is one immutable value of an entity in one environment.
type Revision struct {
	ID            int64     `json:"-"`
	EntityID      string    `json:"entityId"`
	EnvironmentID string    `json:"environmentId"`
	Version       int       `json:"version"`
	Value         string    `json:"value"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedByID   string    `json:"createdById"`
}
