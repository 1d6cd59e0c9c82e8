package consensus

import "time"

// Verdict is a Result stamped with the session it describes. It is the unit
// every sink (ledger, store, API) persists and serves.
type Verdict struct {
	Timestamp     time.Time `json:"timestamp"`
	Session       string    `json:"session"`
	Project       string    `json:"project,omitempty"`
	EngineVersion string    `json:"engine_version"`
	Result        Result    `json:"result"`
}

// NewVerdict wraps res for session at the given time.
func NewVerdict(session, project string, res *Result, at time.Time) *Verdict {
	v := &Verdict{
		Timestamp:     at.UTC(),
		Session:       session,
		Project:       project,
		EngineVersion: Version,
	}
	if res != nil {
		v.Result = *res
	}
	return v
}
