package models

import "time"

// Authority is a named permission checked by the authorization gate.
type Authority string

const (
	AuthCreateSecret   Authority = "CREATE_SECRET"
	AuthReadSecret     Authority = "READ_SECRET"
	AuthUpdateSecret   Authority = "UPDATE_SECRET"
	AuthDeleteSecret   Authority = "DELETE_SECRET"
	AuthCreateVariable Authority = "CREATE_VARIABLE"
	AuthReadVariable   Authority = "READ_VARIABLE"
	AuthUpdateVariable Authority = "UPDATE_VARIABLE"
	AuthDeleteVariable Authority = "DELETE_VARIABLE"
	AuthReadAudit      Authority = "READ_AUDIT"

	// AuthSudo grants every authority on the matched path.
	AuthSudo Authority = "sudo"
)

// Action is the verb half of an authority.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// AuthorityFor returns the authority guarding action on entities of the given kind.
func AuthorityFor(kind Kind, action Action) Authority {
	if kind == KindVariable {
		return Authority(string(action) + "_VARIABLE")
	}
	return Authority(string(action) + "_SECRET")
}

// PathRule defines which authorities are granted on a path.
type PathRule struct {
	Authorities []Authority `json:"authorities"`
}

// Grants returns true if the path rule grants the given authority.
func (p PathRule) Grants(a Authority) bool {
	for _, have := range p.Authorities {
		if have == a || have == AuthSudo {
			return true
		}
	}
	return false
}

// Policy is a named set of path-based access rules.
type Policy struct {
	Name      string              `json:"name"`
	Rules     map[string]PathRule `json:"path"` // path glob → authorities
	CreatedAt time.Time           `json:"created_at,omitempty"`
	UpdatedAt time.Time           `json:"updated_at,omitempty"`
}

// AuditEntry records one engine mutation or denied request.
type AuditEntry struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"requestId"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId"`
	Operation string         `json:"operation"`
	Resource  string         `json:"resource"`
	Outcome   string         `json:"outcome"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
