package audit

import "time"

// Action constants enumerate the audited operations.
const (
	ActionCreate         = "create"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionTokenRefresh   = "token_refresh"
	ActionPasswordChange = "password_change"
	ActionUnlock         = "unlock"
)

// HighRiskThreshold marks the score above which entries are surfaced to
// operational logging for real-time alerting.
const HighRiskThreshold = 50

// Entry is an append-only record of a sensitive action. ActorID is nil for
// failed pre-authentication attempts.
type Entry struct {
	ID              string         `json:"id"`
	ActorID         *string        `json:"actor_id,omitempty"`
	Action          string         `json:"action"`
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	OldValues       map[string]any `json:"old_values,omitempty"`
	NewValues       map[string]any `json:"new_values,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	IPAddress       string         `json:"ip_address,omitempty"`
	UserAgent       string         `json:"user_agent,omitempty"`
	RiskScore       int            `json:"risk_score"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Filters narrows read-side queries over the audit trail.
type Filters struct {
	ActorID    string
	Action     string
	EntityType string
	From       time.Time
	To         time.Time
	Success    *bool
	MinRisk    int
	Page       int
	PageSize   int
}

// PagingInfo describes the slice of results returned by Query.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles queried entries with paging information.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}

// Stats aggregates the audit trail for security review tooling.
type Stats struct {
	Total           int64            `json:"total"`
	Failed          int64            `json:"failed"`
	HighRisk        int64            `json:"high_risk"`
	ByAction        map[string]int64 `json:"by_action"`
	ByEntityType    map[string]int64 `json:"by_entity_type"`
	RiskBucketLow   int64            `json:"risk_low"`    // 0-25
	RiskBucketMed   int64            `json:"risk_medium"` // 26-50
	RiskBucketHigh  int64            `json:"risk_high"`   // 51-75
	RiskBucketGrave int64            `json:"risk_grave"`  // 76-100
}
