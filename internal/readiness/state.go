package readiness

import "time"

const (
	// Interval is the pause between two probes.
	Interval = 3 * time.Second
	// Deadline caps the total time spent waiting for one service.
	Deadline = 45 * time.Second
	// SlowAfter is when a wait starts taking longer than usual.
	SlowAfter = 15 * time.Second
	// StillAfter is when a wait is reported as still going.
	StillAfter = 30 * time.Second
)

// Notice is an escalating diagnostic emitted while a wait goes on.
type Notice int

const (
	NoticeSlow Notice = iota + 1
	NoticeStill
)

func (n Notice) String() string {
	switch n {
	case NoticeSlow:
		return "taking longer than usual"
	case NoticeStill:
		return "still waiting"
	default:
		return "unknown notice"
	}
}

// State is the accounting of one wait. The zero value is a wait that just
// started.
type State struct {
	Elapsed      time.Duration
	SlowNoticed  bool
	StillNoticed bool
}

// Step advances the wait by d and returns the notices that became due. Each
// notice is returned at most once over the life of a State.
func (s *State) Step(d time.Duration) []Notice {
	if d > 0 {
		s.Elapsed += d
	}
	var due []Notice
	if s.Elapsed > SlowAfter && !s.SlowNoticed {
		s.SlowNoticed = true
		due = append(due, NoticeSlow)
	}
	if s.Elapsed > StillAfter && !s.StillNoticed {
		s.StillNoticed = true
		due = append(due, NoticeStill)
	}
	return due
}

// Expired reports whether the deadline has been reached.
func (s State) Expired() bool {
	return s.Elapsed >= Deadline
}

// Next is how long to sleep before the next probe, never past the deadline.
func (s State) Next() time.Duration {
	if left := Deadline - s.Elapsed; left < Interval {
		return left
	}
	return Interval
}
