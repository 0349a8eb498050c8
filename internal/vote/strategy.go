package vote

import (
	"sort"
	"strings"
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

// Strategy tallies free-text votes for one vote mode. Implementations are
// only consulted while the room is Voting.
type Strategy interface {
	Mode() domain.VoteMode

	// Vote tallies the notification's text for its voter, reporting whether
	// it counted as a vote. A voter's re-vote replaces the earlier one.
	Vote(voterID, text string) bool

	// Result returns the candidates ordered by count (ties by first
	// appearance).
	Result() []domain.CandidateCount

	Clear()
}

// NewStrategy returns the strategy for a vote mode.
func NewStrategy(mode domain.VoteMode) Strategy {
	switch mode {
	case domain.ModeNumber:
		return newNumberStrategy()
	default:
		return newMoveStrategy()
	}
}

// tally is the shared re-vote-aware candidate counter.
type tally struct {
	mu      sync.Mutex
	byVoter map[string]string
	counts  map[string]int
	order   []string
}

func newTally() *tally {
	return &tally{
		byVoter: make(map[string]string),
		counts:  make(map[string]int),
	}
}

func (t *tally) vote(voterID, candidate string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byVoter[voterID]; ok {
		if old == candidate {
			return
		}
		t.counts[old]--
	}
	t.byVoter[voterID] = candidate
	if _, seen := t.counts[candidate]; !seen {
		t.order = append(t.order, candidate)
	}
	t.counts[candidate]++
}

func (t *tally) result() []domain.CandidateCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	firstSeen := make(map[string]int, len(t.order))
	for i, c := range t.order {
		firstSeen[c] = i
	}

	out := make([]domain.CandidateCount, 0, len(t.order))
	for _, c := range t.order {
		if t.counts[c] > 0 {
			out = append(out, domain.CandidateCount{Text: c, Count: t.counts[c]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return firstSeen[out[i].Text] < firstSeen[out[j].Text]
	})
	return out
}

func (t *tally) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byVoter = make(map[string]string)
	t.counts = make(map[string]int)
	t.order = nil
}

// moveStrategy tallies shogi-move candidates: the first space-delimited
// token, which must start with a board file digit or 同.
type moveStrategy struct {
	*tally
}

func newMoveStrategy() *moveStrategy {
	return &moveStrategy{tally: newTally()}
}

func (s *moveStrategy) Mode() domain.VoteMode { return domain.ModeMove }

func (s *moveStrategy) Vote(voterID, text string) bool {
	candidate := firstToken(text)
	if !isMoveCandidate(candidate) {
		return false
	}
	s.vote(voterID, candidate)
	return true
}

func (s *moveStrategy) Result() []domain.CandidateCount { return s.result() }
func (s *moveStrategy) Clear()                          { s.clear() }

const moveLeadRunes = "123456789１２３４５６７８９同"

func isMoveCandidate(s string) bool {
	runes := []rune(s)
	if len(runes) < 2 || len(runes) > 12 {
		return false
	}
	return strings.ContainsRune(moveLeadRunes, runes[0])
}

// numberStrategy tallies single-digit choices 1-9.
type numberStrategy struct {
	*tally
}

func newNumberStrategy() *numberStrategy {
	return &numberStrategy{tally: newTally()}
}

func (s *numberStrategy) Mode() domain.VoteMode { return domain.ModeNumber }

func (s *numberStrategy) Vote(voterID, text string) bool {
	candidate := toHalfWidth(firstToken(text))
	if len(candidate) != 1 || candidate[0] < '1' || candidate[0] > '9' {
		return false
	}
	s.vote(voterID, candidate)
	return true
}

func (s *numberStrategy) Result() []domain.CandidateCount { return s.result() }
func (s *numberStrategy) Clear()                          { s.clear() }

// firstToken cuts the text at the first ASCII or full-width space.
func firstToken(s string) string {
	s = trimAllSpace(s)
	if i := strings.IndexAny(s, " \t　"); i >= 0 {
		return s[:i]
	}
	return s
}
