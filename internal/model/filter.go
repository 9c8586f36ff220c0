package model

// Page is the cursor window shared by every list query. Results are ordered
// by id descending; Cursor is the last id of the previous page.
type Page struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// EventFilter holds criteria for querying events.
type EventFilter struct {
	TenantID   string   `json:"tenant_id"`
	EventTypes []string `json:"event_types,omitempty"`
	Topics     []string `json:"topics,omitempty"` // matches events carrying any of the topics
	SenderIDs  []string `json:"sender_ids,omitempty"`
	Page
}

// DestinationFilter holds criteria for querying destinations.
type DestinationFilter struct {
	TenantID string `json:"tenant_id"`
	Page
}

// IntentFilter holds criteria for querying delivery intents.
type IntentFilter struct {
	TenantID       string         `json:"tenant_id"`
	EventIDs       []string       `json:"event_ids,omitempty"`
	DestinationIDs []string       `json:"destination_ids,omitempty"`
	Status         []IntentStatus `json:"status,omitempty"`
	Page
}

// AttemptFilter holds criteria for querying delivery attempts.
type AttemptFilter struct {
	TenantID       string          `json:"tenant_id"`
	EventIDs       []string        `json:"event_ids,omitempty"`
	IntentIDs      []string        `json:"intent_ids,omitempty"`
	DestinationIDs []string        `json:"destination_ids,omitempty"`
	Status         []AttemptStatus `json:"status,omitempty"`
	Page
}

// Default and maximum page sizes for list queries.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Normalize clamps the limit into [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
