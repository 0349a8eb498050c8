package vote

import "sync"

// ExtendLedger records per-voter time-extend votes. A voter's value is
// always in {-1, 0, +1}: a second vote overwrites instead of accumulating.
// (The alternative "one stabilize vote per lifetime" policy was rejected;
// see DESIGN.md.)
type ExtendLedger struct {
	mu    sync.Mutex
	votes map[string]int
}

func NewExtendLedger() *ExtendLedger {
	return &ExtendLedger{votes: make(map[string]int)}
}

// Vote records a unit vote (+1 extend, -1 stabilize) for the voter and
// reports whether the voter's net vote actually changed.
func (l *ExtendLedger) Vote(voterID string, value int) bool {
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.votes[voterID]
	if old == value {
		return false
	}
	l.votes[voterID] = value
	return true
}

// Points returns the two point totals: voters currently voting extend and
// voters currently voting stabilize.
func (l *ExtendLedger) Points() (extend, stabilize int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, v := range l.votes {
		switch {
		case v > 0:
			extend++
		case v < 0:
			stabilize++
		}
	}
	return extend, stabilize
}

// Value returns the voter's current net vote.
func (l *ExtendLedger) Value(voterID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.votes[voterID]
}

func (l *ExtendLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votes = make(map[string]int)
}
