package domain

import (
	"fmt"
	"time"
)

// VoteState is the phase of a room's countdown state machine.
type VoteState int

const (
	StateStopped VoteState = iota
	StateVoting
	StatePaused
	StateEnded
)

func (s VoteState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateVoting:
		return "voting"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// VoteMode selects the strategy interpreting free-text votes.
type VoteMode int

const (
	ModeMove VoteMode = iota
	ModeNumber
)

func (m VoteMode) String() string {
	switch m {
	case ModeMove:
		return "move"
	case ModeNumber:
		return "number"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m VoteMode) Valid() bool {
	return m == ModeMove || m == ModeNumber
}

// CandidateCount is one tallied candidate in a vote result.
type CandidateCount struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// VoteResult is the periodic room-wide snapshot of the running vote.
type VoteResult struct {
	Mode             VoteMode         `json:"mode"`
	State            VoteState        `json:"state"`
	Candidates       []CandidateCount `json:"candidates"`
	EvaluationPoint  int              `json:"evaluationPoint"`
	ExtendPoint      int              `json:"extendPoint"`
	StabilizePoint   int              `json:"stabilizePoint"`
	VoteSpanSeconds  float64          `json:"voteSpanSeconds"`
	TotalSpanSeconds float64          `json:"totalSpanSeconds"`
}

// Voter is one known chat participant.
type Voter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VoterList is an immutable snapshot of everyone seen by a room.
type VoterList struct {
	Joined      []Voter `json:"joined"`
	Unjoined    []Voter `json:"unjoined"`
	LiveOwners  []Voter `json:"liveOwners"`
	JoinedCount int     `json:"joinedCount"`
	TotalCount  int     `json:"totalCount"`
}

// Unlimited is the distinguished "no limit" span. It is a sentinel, never
// an operand: span arithmetic checks for it before computing.
const Unlimited time.Duration = -1

// spanOffset keeps client countdown displays from rounding to a boundary
// value slightly early.
const spanOffset = 300 * time.Millisecond

// NormalizeSpan floors a span to whole seconds and re-applies the fixed
// fractional offset. Non-positive spans collapse to zero and the unlimited
// sentinel passes through untouched.
func NormalizeSpan(d time.Duration) time.Duration {
	if d == Unlimited {
		return Unlimited
	}
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + spanOffset
}

// SpanSeconds converts a span to the wire representation: whole seconds,
// or -1 for the unlimited sentinel.
func SpanSeconds(d time.Duration) float64 {
	if d == Unlimited {
		return -1
	}
	if d < 0 {
		return 0
	}
	return float64(int64(d / time.Second))
}
