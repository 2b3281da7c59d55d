package ledger

// Status is the lifecycle state of a session record.
type Status string

const (
	StatusLive    Status = "LIVE"
	StatusStopped Status = "STOPPED"
)

// Shot is one entry in a session's shot history.
type Shot struct {
	Num  int     `json:"num"`
	Time float64 `json:"time"`
}

// SessionRecord is the live or last-known state of one session. It is the
// payload of SESSION_SYNC messages.
type SessionRecord struct {
	Active    bool    `json:"active"`
	Status    Status  `json:"status"`
	Shots     []Shot  `json:"shots"`
	FirstShot float64 `json:"first_shot"`
	BestSplit float64 `json:"best_split"`
	TotalTime float64 `json:"total_time"`
	SessID    uint32  `json:"sess_id"`
}

// Clone returns a deep copy.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Shots = make([]Shot, len(r.Shots))
	copy(c.Shots, r.Shots)
	return &c
}

// ShotEntry is the outcome of recording one shot. Split is nil for the first
// shot of a session.
type ShotEntry struct {
	Num   int
	Time  float64
	Split *float64
}
