package vote

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
)

// Chat command vocabulary. Prefix commands tolerate both ASCII and
// full-width spaces after the prefix.
const (
	importantPrefix = "重要"
	messagePrefix   = "伝言"
	evalPrefix      = "評価値"
	evalClearText   = "評価値クリア"
	extendText      = "延長"
	stabilizeText   = "安定"
	extendClearText = "延長クリア"
)

// TimeControl is the slice of the TimeKeeper the model nudges.
type TimeControl interface {
	State() domain.VoteState
	AddVoteSpan(diff, minimum time.Duration) error
}

// Model routes every inbound chat notification through exactly one of four
// handlers: message commands, evaluation commands, time-extend commands, or
// the active vote strategy. The first match wins.
type Model struct {
	mu       sync.Mutex
	timeCtrl TimeControl
	strategy Strategy
	ledger   *ExtendLedger

	mirrorMode      bool
	evaluationPoint int

	extendSpan time.Duration
	extendMin  time.Duration
	endCount   int

	rebroadcast func(domain.Notification)
}

func NewModel(timeCtrl TimeControl, extendSpan, extendMin time.Duration) *Model {
	return &Model{
		timeCtrl:   timeCtrl,
		strategy:   NewStrategy(domain.ModeMove),
		ledger:     NewExtendLedger(),
		extendSpan: extendSpan,
		extendMin:  extendMin,
		endCount:   1,
	}
}

// SetRebroadcast registers the room-wide broadcast callback for
// notifications the model re-emits. Called outside the model lock.
func (m *Model) SetRebroadcast(f func(domain.Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebroadcast = f
}

// Mode returns the active vote mode.
func (m *Model) Mode() domain.VoteMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy.Mode()
}

// MirrorMode reports whether "mirror everything" mode is on.
func (m *Model) MirrorMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrorMode
}

// EvaluationPoint returns the current evaluation point.
func (m *Model) EvaluationPoint() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluationPoint
}

// ChangeVoteMode swaps the strategy. Only valid while the vote is Stopped.
func (m *Model) ChangeVoteMode(mode domain.VoteMode, mirrorMode bool) error {
	if !mode.Valid() {
		return errors.ValidationError("undefined vote mode").
			WithContext("mode", int(mode))
	}
	if state := m.timeCtrl.State(); state != domain.StateStopped {
		return errors.BadStateError("vote mode can only change while stopped").
			WithContext("state", state.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strategy.Mode() != mode {
		m.strategy = NewStrategy(mode)
	}
	m.mirrorMode = mirrorMode
	return nil
}

// SetTimeExtendSetting reconfigures the time-extend vote: endCount voters
// must agree before each span nudge, and each nudge moves the span by
// extendSeconds.
func (m *Model) SetTimeExtendSetting(endCount, extendSeconds int) error {
	if endCount < 1 {
		return errors.ValidationError("end count must be at least 1")
	}
	if extendSeconds == 0 {
		return errors.ValidationError("extend seconds must be non-zero")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endCount = endCount
	m.extendSpan = time.Duration(extendSeconds) * time.Second
	return nil
}

// ClearVote resets the strategy tally and the evaluation point.
func (m *Model) ClearVote() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy.Clear()
	m.evaluationPoint = 0
}

// ClearTimeExtend resets the extend ledger. Wired to the TimeKeeper's
// stop/end transitions.
func (m *Model) ClearTimeExtend() {
	m.ledger.Clear()
}

// Result snapshots the tallied candidates and point totals.
func (m *Model) Result() domain.VoteResult {
	m.mu.Lock()
	strategy := m.strategy
	eval := m.evaluationPoint
	m.mu.Unlock()

	extend, stabilize := m.ledger.Points()
	return domain.VoteResult{
		Mode:            strategy.Mode(),
		Candidates:      strategy.Result(),
		EvaluationPoint: eval,
		ExtendPoint:     extend,
		StabilizePoint:  stabilize,
	}
}

// Process interprets one validated inbound notification. Exactly one
// handler claims it; unclaimed text is offered to the strategy only while
// Voting.
func (m *Model) Process(n domain.Notification, isOwner bool) {
	text := trimAllSpace(n.Text)

	if m.processMessage(n, text, isOwner) {
		return
	}
	if m.processEvaluation(n, text, isOwner) {
		return
	}
	if m.processTimeExtend(n, text, isOwner) {
		return
	}
	m.processVote(n, text)
}

func (m *Model) processMessage(n domain.Notification, text string, isOwner bool) bool {
	if rest, ok := cutCommand(text, importantPrefix); ok {
		if !isOwner {
			slog.Debug("important command from non-owner dropped", "voter", n.VoterID)
			return true
		}
		if rest != "" {
			m.emit(n, domain.KindImportant, domain.ColorRed, rest)
		}
		return true
	}
	if rest, ok := cutCommand(text, messagePrefix); ok {
		if rest != "" {
			m.emit(n, domain.KindMessage, domain.ColorGreen, rest)
		}
		return true
	}
	return false
}

func (m *Model) processEvaluation(n domain.Notification, text string, isOwner bool) bool {
	if text == evalClearText {
		if isOwner {
			m.mu.Lock()
			m.evaluationPoint = 0
			m.mu.Unlock()
		}
		return true
	}

	rest, ok := cutCommand(text, evalPrefix)
	if !ok {
		return false
	}
	point, ok := ParseEvaluation(rest)
	if !ok {
		slog.Debug("unparsable evaluation command", "text", text)
		return true
	}

	m.mu.Lock()
	m.evaluationPoint = point
	m.mu.Unlock()

	m.emit(n, domain.KindEvaluation, domain.ColorBlue, text)
	return true
}

func (m *Model) processTimeExtend(n domain.Notification, text string, isOwner bool) bool {
	if text == extendClearText {
		if isOwner {
			m.ledger.Clear()
		}
		return true
	}

	var value int
	switch text {
	case extendText:
		value = 1
	case stabilizeText:
		value = -1
	default:
		return false
	}

	if !m.ledger.Vote(n.VoterID, value) {
		// Net vote unchanged, no nudge.
		return true
	}

	m.mu.Lock()
	extendSpan := m.extendSpan
	extendMin := m.extendMin
	endCount := m.endCount
	m.mu.Unlock()

	extendPts, stabilizePts := m.ledger.Points()
	points := extendPts
	if value < 0 {
		points = stabilizePts
	}

	if endCount <= 1 || (points > 0 && points%endCount == 0) {
		diff := extendSpan
		if value < 0 {
			diff = -diff
		}
		if err := m.timeCtrl.AddVoteSpan(diff, extendMin); err != nil {
			slog.Debug("time-extend nudge rejected", "error", err)
		}
	}

	m.emit(n, domain.KindTimeExtend, domain.ColorOrange, text)
	return true
}

func (m *Model) processVote(n domain.Notification, text string) {
	if m.timeCtrl.State() != domain.StateVoting {
		return
	}

	m.mu.Lock()
	strategy := m.strategy
	m.mu.Unlock()

	if strategy.Vote(n.VoterID, text) {
		metrics.VotesTallied.Inc()
		m.emit(n, domain.KindVote, domain.ColorDefault, text)
	}
}

func (m *Model) emit(n domain.Notification, kind domain.NotificationKind, color domain.Color, text string) {
	m.mu.Lock()
	rebroadcast := m.rebroadcast
	m.mu.Unlock()
	if rebroadcast == nil {
		return
	}

	out := n
	out.Kind = kind
	out.Color = color
	out.Text = text
	rebroadcast(out)
}

// cutCommand strips a command prefix plus any following ASCII or
// full-width spaces.
func cutCommand(text, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return "", false
	}
	return strings.TrimLeft(rest, " \t　"), true
}
