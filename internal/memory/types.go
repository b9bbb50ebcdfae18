package memory

import (
	"time"

	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

// recordVersion is written into every session record. Records with an
// unknown version are quarantined instead of decoded.
const recordVersion = 1

// patternsVersion versions the patterns file format.
const patternsVersion = 1

// Pattern is a finding that recurred across committed sessions.
type Pattern struct {
	// Key identifies the pattern, taken from the insights' PatternKey.
	Key string `json:"key"`

	// Description is the most recent wording of the finding.
	Description string `json:"description"`

	// Support counts how many commits carried the pattern.
	Support int `json:"support"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// EffectiveSupport is the recency-decayed support computed at read
	// time. It is never persisted.
	EffectiveSupport float64 `json:"effective_support,omitempty"`
}

// RetrievedContext is a past session surfaced as relevant to a new
// analysis.
type RetrievedContext struct {
	SessionID  string            `json:"session_id"`
	Dataset    string            `json:"dataset"`
	Similarity float64           `json:"similarity"`
	Insights   []insight.Insight `json:"insights,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LogEntry is one line of the append-only insight log.
type LogEntry struct {
	SessionID   string            `json:"session_id"`
	Dataset     string            `json:"dataset"`
	CommittedAt time.Time         `json:"committed_at"`
	Insights    []insight.Insight `json:"insights"`
}

// sessionRecord is the on-disk envelope around a session.
type sessionRecord struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Session *session.Session `json:"session"`
}

// patternsFile is the on-disk patterns store.
type patternsFile struct {
	Version  int                `json:"version"`
	Patterns map[string]Pattern `json:"patterns"`
}
