package gateway

// Session is the resumable state of a gateway session. It survives a
// resume-intent close and is cleared by any other close.
type Session struct {
	ID        string
	Sequence  int64
	ResumeURL string
}

// valid reports whether the session can be resumed.
func (s *Session) valid() bool {
	return s.ID != ""
}

// observe records an inbound sequence number. Only larger values are
// accepted so the sequence never regresses.
func (s *Session) observe(seq int64) bool {
	if seq <= s.Sequence {
		return false
	}
	s.Sequence = seq
	return true
}

func (s *Session) reset() {
	*s = Session{}
}
