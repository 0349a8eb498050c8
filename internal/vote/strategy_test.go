package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

func TestMoveStrategyAcceptsMoves(t *testing.T) {
	s := NewStrategy(domain.ModeMove)
	require.Equal(t, domain.ModeMove, s.Mode())

	assert.True(t, s.Vote("a", "７六歩"))
	assert.True(t, s.Vote("b", "同飛成"))
	assert.True(t, s.Vote("c", "２六歩　囲いを優先"))

	assert.False(t, s.Vote("d", "がんばれ"))
	assert.False(t, s.Vote("e", "歩"))
	assert.False(t, s.Vote("f", ""))
}

func TestMoveStrategyTruncatesAtSpace(t *testing.T) {
	s := NewStrategy(domain.ModeMove)

	s.Vote("a", "７六歩　これが本命")
	s.Vote("b", "７六歩 別コメント")

	result := s.Result()
	require.Len(t, result, 1)
	assert.Equal(t, "７六歩", result[0].Text)
	assert.Equal(t, 2, result[0].Count)
}

func TestMoveStrategyRevoteReplaces(t *testing.T) {
	s := NewStrategy(domain.ModeMove)

	s.Vote("a", "７六歩")
	s.Vote("a", "２六歩")

	result := s.Result()
	require.Len(t, result, 1)
	assert.Equal(t, "２六歩", result[0].Text)
	assert.Equal(t, 1, result[0].Count)
}

func TestMoveStrategyOrdersByCountThenFirstSeen(t *testing.T) {
	s := NewStrategy(domain.ModeMove)

	s.Vote("a", "７六歩")
	s.Vote("b", "２六歩")
	s.Vote("c", "２六歩")
	s.Vote("d", "同歩")

	result := s.Result()
	require.Len(t, result, 3)
	assert.Equal(t, "２六歩", result[0].Text)
	// Ties keep first-appearance order.
	assert.Equal(t, "７六歩", result[1].Text)
	assert.Equal(t, "同歩", result[2].Text)
}

func TestNumberStrategy(t *testing.T) {
	s := NewStrategy(domain.ModeNumber)
	require.Equal(t, domain.ModeNumber, s.Mode())

	assert.True(t, s.Vote("a", "3"))
	assert.True(t, s.Vote("b", "３"))
	assert.True(t, s.Vote("c", "9　これで"))

	assert.False(t, s.Vote("d", "0"))
	assert.False(t, s.Vote("e", "10"))
	assert.False(t, s.Vote("f", "x"))

	result := s.Result()
	require.Len(t, result, 2)
	assert.Equal(t, domain.CandidateCount{Text: "3", Count: 2}, result[0])
	assert.Equal(t, domain.CandidateCount{Text: "9", Count: 1}, result[1])
}

func TestStrategyClear(t *testing.T) {
	s := NewStrategy(domain.ModeMove)
	s.Vote("a", "７六歩")

	s.Clear()

	assert.Empty(t, s.Result())
}
