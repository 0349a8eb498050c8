// Package timekeeper implements the vote countdown state machine:
// Stopped → Voting ⇄ Paused, Voting → Ended, {Ended,Stopped} → Voting.
package timekeeper

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
)

// countdownSlack pads the end-of-vote timer so a single late wakeup is
// harmless; the callback re-checks remaining time before transitioning.
const countdownSlack = 200 * time.Millisecond

// NoMinimum disables the floor check of AddVoteSpan.
const NoMinimum time.Duration = -1

// TimeKeeper tracks the remaining vote span and total span of one room.
// Spans are stored rebased to the most recent mutation, so while Voting the
// remaining time is the stored span minus elapsed network time.
type TimeKeeper struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	netClock domain.NetworkClock

	state     domain.VoteState
	voteSpan  time.Duration // remaining as of startedAt
	totalSpan time.Duration // remaining as of startedAt; may be Unlimited
	startedAt time.Time

	timer clockwork.Timer

	onVoteEnded   func()
	onClearExtend func()
}

func New(clock clockwork.Clock, netClock domain.NetworkClock) *TimeKeeper {
	return &TimeKeeper{
		clock:     clock,
		netClock:  netClock,
		state:     domain.StateStopped,
		voteSpan:  0,
		totalSpan: domain.Unlimited,
	}
}

// SetOnVoteEnded registers the callback fired when the countdown reaches
// zero. Called outside the lock. Must be set before the first StartVote.
func (t *TimeKeeper) SetOnVoteEnded(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onVoteEnded = f
}

// SetOnClearExtend registers the callback invoked whenever the time-extend
// ledger must be reset (StopVote and countdown end). Called outside the lock.
func (t *TimeKeeper) SetOnClearExtend(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClearExtend = f
}

// State returns the current phase.
func (t *TimeKeeper) State() domain.VoteState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// VoteSpan returns the remaining vote time.
func (t *TimeKeeper) VoteSpan() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingVoteLocked(t.netClock.Now())
}

// TotalVoteSpan returns the remaining total time, or Unlimited.
func (t *TimeKeeper) TotalVoteSpan() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingTotalLocked(t.netClock.Now())
}

// Snapshot returns the state and both remaining spans at once.
func (t *TimeKeeper) Snapshot() (domain.VoteState, time.Duration, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.netClock.Now()
	return t.state, t.remainingVoteLocked(now), t.remainingTotalLocked(now)
}

// StartVote begins (or restarts, or resumes) a countdown of the given span.
// The span is clamped into the remaining total span.
func (t *TimeKeeper) StartVote(span time.Duration) error {
	if span != domain.Unlimited && span <= 0 {
		return errors.ValidationError("vote span must be positive").
			WithContext("span", span.String())
	}

	t.mu.Lock()
	now := t.netClock.Now()
	t.rebaseLocked(now)

	t.voteSpan = domain.NormalizeSpan(t.clampToTotalLocked(span))
	t.state = domain.StateVoting
	t.startedAt = now
	t.armTimerLocked()
	t.mu.Unlock()
	return nil
}

// PauseVote halts the countdown, folding elapsed time into both spans.
// Only valid while Voting.
func (t *TimeKeeper) PauseVote() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != domain.StateVoting {
		return errors.BadStateError("pause is only valid while voting").
			WithContext("state", t.state.String())
	}

	t.rebaseLocked(t.netClock.Now())
	t.voteSpan = domain.NormalizeSpan(t.voteSpan)
	t.totalSpan = domain.NormalizeSpan(t.totalSpan)
	t.state = domain.StatePaused
	t.stopTimerLocked()
	return nil
}

// StopVote ends the vote. The remaining total span is computed before the
// vote span is cleared, then addToTotal is folded in. The time-extend ledger
// is reset.
func (t *TimeKeeper) StopVote(addToTotal time.Duration) error {
	t.mu.Lock()

	if t.state == domain.StateStopped {
		t.mu.Unlock()
		return errors.BadStateError("vote is already stopped")
	}

	t.rebaseLocked(t.netClock.Now())
	if t.totalSpan != domain.Unlimited {
		t.totalSpan = domain.NormalizeSpan(t.totalSpan + addToTotal)
	}
	t.voteSpan = 0
	t.state = domain.StateStopped
	t.stopTimerLocked()
	onClear := t.onClearExtend
	t.mu.Unlock()

	if onClear != nil {
		onClear()
	}
	return nil
}

// SetVoteSpan makes the remaining vote time exactly span, clamped into the
// remaining total span.
func (t *TimeKeeper) SetVoteSpan(span time.Duration) error {
	if span != domain.Unlimited && span < 0 {
		return errors.ValidationError("vote span must not be negative").
			WithContext("span", span.String())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rebaseLocked(t.netClock.Now())
	t.voteSpan = domain.NormalizeSpan(t.clampToTotalLocked(span))
	t.armTimerLocked()
	return nil
}

// AddVoteSpan shifts the remaining vote time by diff. When a minimum is
// requested and the shift would cross below it, the operation is rejected
// unless the current remaining time already violates the minimum; an
// already-low state is never undone.
func (t *TimeKeeper) AddVoteSpan(diff, minimum time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rebaseLocked(t.netClock.Now())

	if t.voteSpan == domain.Unlimited {
		return errors.BadStateError("vote span is unlimited")
	}

	old := t.voteSpan
	next := old + diff
	if minimum != NoMinimum && next < minimum && old >= minimum {
		return errors.BadStateError("add would push vote span below minimum").
			WithContext("minimum", minimum.String())
	}

	t.voteSpan = domain.NormalizeSpan(t.clampToTotalLocked(next))
	t.armTimerLocked()
	return nil
}

// SetTotalVoteSpan makes the remaining total time exactly span (or
// Unlimited), then re-clamps the vote span into the new total.
func (t *TimeKeeper) SetTotalVoteSpan(span time.Duration) error {
	if span != domain.Unlimited && span < 0 {
		return errors.ValidationError("total span must not be negative").
			WithContext("span", span.String())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rebaseLocked(t.netClock.Now())
	t.totalSpan = domain.NormalizeSpan(span)
	t.reclampVoteSpanLocked()
	t.armTimerLocked()
	return nil
}

// AddTotalVoteSpan shifts the remaining total time by diff.
func (t *TimeKeeper) AddTotalVoteSpan(diff time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rebaseLocked(t.netClock.Now())

	if t.totalSpan == domain.Unlimited {
		return errors.BadStateError("total span is unlimited")
	}

	t.totalSpan = domain.NormalizeSpan(t.totalSpan + diff)
	t.reclampVoteSpanLocked()
	t.armTimerLocked()
	return nil
}

// Close releases the countdown timer.
func (t *TimeKeeper) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked()
}

// countdownCheck runs on the timer goroutine. A wakeup with time still on
// the clock simply re-arms.
func (t *TimeKeeper) countdownCheck() {
	t.mu.Lock()
	if t.state != domain.StateVoting {
		t.mu.Unlock()
		return
	}

	now := t.netClock.Now()
	remaining := t.remainingVoteLocked(now)
	if remaining == domain.Unlimited {
		t.mu.Unlock()
		return
	}
	if remaining > 0 {
		t.timer = t.clock.AfterFunc(remaining+countdownSlack, t.countdownCheck)
		t.mu.Unlock()
		return
	}

	t.rebaseLocked(now)
	t.voteSpan = 0
	if t.totalSpan != domain.Unlimited {
		t.totalSpan = domain.NormalizeSpan(t.totalSpan)
	}
	t.state = domain.StateEnded
	t.stopTimerLocked()
	onClear := t.onClearExtend
	onEnded := t.onVoteEnded
	t.mu.Unlock()

	if onClear != nil {
		onClear()
	}
	if onEnded != nil {
		onEnded()
	}
}

// rebaseLocked folds elapsed time into the stored spans so that they hold
// the remaining durations as of now.
func (t *TimeKeeper) rebaseLocked(now time.Time) {
	if t.state != domain.StateVoting {
		return
	}
	elapsed := now.Sub(t.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if t.voteSpan != domain.Unlimited {
		t.voteSpan -= elapsed
		if t.voteSpan < 0 {
			t.voteSpan = 0
		}
	}
	if t.totalSpan != domain.Unlimited {
		t.totalSpan -= elapsed
		if t.totalSpan < 0 {
			t.totalSpan = 0
		}
	}
	t.startedAt = now
}

func (t *TimeKeeper) remainingVoteLocked(now time.Time) time.Duration {
	if t.voteSpan == domain.Unlimited {
		return domain.Unlimited
	}
	if t.state != domain.StateVoting {
		return t.voteSpan
	}
	remaining := t.voteSpan - now.Sub(t.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *TimeKeeper) remainingTotalLocked(now time.Time) time.Duration {
	if t.totalSpan == domain.Unlimited {
		return domain.Unlimited
	}
	if t.state != domain.StateVoting {
		return t.totalSpan
	}
	remaining := t.totalSpan - now.Sub(t.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *TimeKeeper) clampToTotalLocked(span time.Duration) time.Duration {
	if span == domain.Unlimited || t.totalSpan == domain.Unlimited {
		return span
	}
	if span > t.totalSpan {
		return t.totalSpan
	}
	return span
}

func (t *TimeKeeper) reclampVoteSpanLocked() {
	if t.voteSpan == domain.Unlimited || t.totalSpan == domain.Unlimited {
		return
	}
	if t.voteSpan > t.totalSpan {
		t.voteSpan = t.totalSpan
	}
}

func (t *TimeKeeper) armTimerLocked() {
	t.stopTimerLocked()
	if t.state != domain.StateVoting || t.voteSpan == domain.Unlimited {
		return
	}
	t.timer = t.clock.AfterFunc(t.voteSpan+countdownSlack, t.countdownCheck)
}

func (t *TimeKeeper) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
