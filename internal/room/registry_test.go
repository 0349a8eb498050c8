package room

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebifrier/Okiami-sub000/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(newTestDeps(clockwork.NewFakeClock()))
}

func mustCreate(t *testing.T, reg *Registry, name, owner string) (*Room, *Participant) {
	t.Helper()
	r, p, err := reg.CreateRoom(name, "", &mockConn{}, owner, owner)
	require.NoError(t, err)
	t.Cleanup(r.close)
	return r, p
}

func TestRegistryAssignsSequentialIDs(t *testing.T) {
	reg := newTestRegistry(t)

	r0, _ := mustCreate(t, reg, "first", "o1")
	r1, _ := mustCreate(t, reg, "second", "o2")
	r2, _ := mustCreate(t, reg, "third", "o3")

	assert.Equal(t, 0, r0.ID())
	assert.Equal(t, 1, r1.ID())
	assert.Equal(t, 2, r2.ID())
	assert.Equal(t, 3, reg.Count())
}

func TestRegistryReusesFreedSlot(t *testing.T) {
	reg := newTestRegistry(t)

	r0, p0 := mustCreate(t, reg, "first", "o1")
	mustCreate(t, reg, "second", "o2")

	require.NoError(t, r0.Leave(p0))
	assert.Equal(t, 1, reg.Count())

	// The lowest free slot is handed out first.
	r, _ := mustCreate(t, reg, "third", "o3")
	assert.Equal(t, 0, r.ID())

	got, err := reg.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "third", got.Name())
}

func TestRegistryGetBounds(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, "only", "o1")

	_, err := reg.Get(-1)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	_, err = reg.Get(7)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	r, err := reg.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "only", r.Name())
}

func TestRegistryListRange(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreate(t, reg, "a", "o1")
	r1, p1 := mustCreate(t, reg, "b", "o2")
	mustCreate(t, reg, "c", "o3")

	all := reg.List(0, -1)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name)

	sub := reg.List(1, 3)
	require.Len(t, sub, 2)
	assert.Equal(t, "b", sub[0].Name)
	assert.Equal(t, "c", sub[1].Name)

	// Closed rooms disappear from listings while the others keep their ids.
	require.NoError(t, r1.Leave(p1))
	all = reg.List(0, -1)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "c", all[1].Name)
	assert.Equal(t, 2, all[1].ID)
}
