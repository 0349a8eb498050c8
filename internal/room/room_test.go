package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
)

// --- Mocks ---

type sentCommand struct {
	method string
	params any
}

type mockConn struct {
	mu   sync.Mutex
	sent []sentCommand
}

func (c *mockConn) SendCommand(method string, params any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentCommand{method: method, params: params})
}

func (c *mockConn) getSent() []sentCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentCommand, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *mockConn) countOf(method string) int {
	n := 0
	for _, s := range c.getSent() {
		if s.method == method {
			n++
		}
	}
	return n
}

func (c *mockConn) lastOf(method string) (sentCommand, bool) {
	sent := c.getSent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].method == method {
			return sent[i], true
		}
	}
	return sentCommand{}, false
}

// --- Helpers ---

var testLive = domain.LiveData{Site: "nico", ID: "lv200"}

func newTestDeps(clock clockwork.Clock) Deps {
	return Deps{
		Clock:    clock,
		NetClock: domain.NetworkClockFunc(clock.Now),
		Relay: liveroom.Config{
			SubRoomCount:      2,
			CommenterCap:      3,
			PostNotifications: true,
		},
		ExtendSpan: 60 * time.Second,
		ExtendMin:  15 * time.Second,
	}
}

// newTestRoom opens a registry-backed room with its owner admitted.
func newTestRoom(t *testing.T) (*Registry, *Room, *Participant, *mockConn, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(newTestDeps(clock))

	conn := &mockConn{}
	r, owner, err := reg.CreateRoom("study", "secret", conn, "owner-1", "alice")
	require.NoError(t, err)
	t.Cleanup(r.close)
	return reg, r, owner, conn, clock
}

// --- Lifecycle ---

func TestCreateRoomAdmitsOwner(t *testing.T) {
	reg, r, owner, _, _ := newTestRoom(t)

	assert.Equal(t, 0, owner.No())
	assert.Equal(t, "owner-1", owner.ID())
	assert.True(t, r.IsOwner(owner))
	assert.Equal(t, 1, reg.Count())

	s := r.Summary()
	assert.Equal(t, "study", s.Name)
	assert.Equal(t, "alice", s.OwnerName)
	assert.True(t, s.HasPassword)
	assert.Equal(t, 1, s.Participants)
	assert.Equal(t, domain.StateStopped, s.State)
}

func TestCreateRoomValidation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(newTestDeps(clock))

	_, _, err := reg.CreateRoom("", "", &mockConn{}, "owner-1", "alice")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, _, err = reg.CreateRoom("study", "", &mockConn{}, "", "alice")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Equal(t, 0, reg.Count())
}

func TestEnterWrongPassword(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	_, err := r.Enter(&mockConn{}, "guest-1", "bob", "wrong")
	assert.Equal(t, errors.CodeUnauthorized, errors.CodeOf(err))
}

func TestEnterRequiresParticipantID(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	_, err := r.Enter(&mockConn{}, "", "bob", "secret")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestEnterAnnouncesParticipants(t *testing.T) {
	_, r, _, ownerConn, _ := newTestRoom(t)

	guest, err := r.Enter(&mockConn{}, "guest-1", "bob", "secret")
	require.NoError(t, err)
	assert.Equal(t, 1, guest.No())

	last, ok := ownerConn.lastOf("ParticipantChanged")
	require.True(t, ok)
	infos, ok := last.params.([]Info)
	require.True(t, ok)
	require.Len(t, infos, 2)
	assert.Equal(t, "alice", infos[0].Name)
	assert.Equal(t, "bob", infos[1].Name)
}

func TestLeaveUnknownParticipant(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	err := r.Leave(&Participant{id: "stranger", lrm: nil})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestLastLeaveClosesRoom(t *testing.T) {
	reg, r, owner, _, _ := newTestRoom(t)

	require.NoError(t, r.Leave(owner))
	assert.Equal(t, 0, reg.Count())

	_, err := reg.Get(r.ID())
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	// The closed room never admits anyone again.
	_, err = r.Enter(&mockConn{}, "guest-1", "bob", "secret")
	assert.Equal(t, errors.CodeBadState, errors.CodeOf(err))
}

func TestSetParticipantAttribute(t *testing.T) {
	_, r, owner, conn, _ := newTestRoom(t)

	r.SetParticipantAttribute(owner, "carol", true)
	assert.Equal(t, "carol", owner.Name())
	assert.True(t, owner.AllowPosting())

	// Empty name keeps the current one.
	r.SetParticipantAttribute(owner, "", false)
	assert.Equal(t, "carol", owner.Name())
	assert.False(t, owner.AllowPosting())

	last, ok := conn.lastOf("ParticipantChanged")
	require.True(t, ok)
	infos := last.params.([]Info)
	require.Len(t, infos, 1)
	assert.Equal(t, "carol", infos[0].Name)
}

// --- Time and vote control ---

func TestStartVoteBroadcastsState(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)

	require.NoError(t, r.StartVote(60*time.Second))

	last, ok := conn.lastOf("RoomStateChanged")
	require.True(t, ok)
	snap := last.params.(StateSnapshot)
	assert.Equal(t, domain.StateVoting, snap.State)
	assert.InDelta(t, 60.3, snap.VoteSpanSeconds, 0.001)
}

func TestTimeControlErrorsDoNotBroadcast(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)
	before := conn.countOf("RoomStateChanged")

	assert.Error(t, r.PauseVote())
	assert.Error(t, r.StartVote(0))
	assert.Equal(t, before, conn.countOf("RoomStateChanged"))
}

func TestVoteEndAnnouncement(t *testing.T) {
	_, r, _, conn, clock := newTestRoom(t)

	require.NoError(t, r.StartVote(10*time.Second))
	clock.Advance(11 * time.Second)

	assert.Eventually(t, func() bool {
		last, ok := conn.lastOf("Notification")
		if !ok {
			return false
		}
		n := last.params.(domain.Notification)
		return n.Kind == domain.KindSystem && n.Text == voteEndedText
	}, time.Second, time.Millisecond)
}

func TestResultLoopBroadcastsPeriodically(t *testing.T) {
	_, _, _, conn, clock := newTestRoom(t)

	clock.BlockUntilContext(context.Background(), 2)
	clock.Advance(resultInterval)

	assert.Eventually(t, func() bool {
		last, ok := conn.lastOf("VoteResult")
		if !ok {
			return false
		}
		res := last.params.(domain.VoteResult)
		return res.State == domain.StateStopped
	}, time.Second, time.Millisecond)
}

func TestChangeVoteModeBroadcasts(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)

	require.NoError(t, r.ChangeVoteMode(domain.ModeNumber, true))

	last, ok := conn.lastOf("VoteModeChanged")
	require.True(t, ok)
	params := last.params.(map[string]any)
	assert.Equal(t, domain.ModeNumber, params["mode"])
	assert.Equal(t, true, params["isMirrorMode"])
}

func TestClearVoteBroadcastsResult(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)

	r.ClearVote()
	_, ok := conn.lastOf("VoteResult")
	assert.True(t, ok)
}

// --- Notifications ---

func TestHandleNotificationJoin(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)

	err := r.HandleNotification("　参加 ", false, nil, "v1", "taro")
	require.NoError(t, err)

	list := r.VoterList()
	require.Len(t, list.Joined, 1)
	assert.Equal(t, "taro", list.Joined[0].Name)
	assert.Equal(t, 1, list.JoinedCount)

	last, ok := conn.lastOf("Notification")
	require.True(t, ok)
	n := last.params.(domain.Notification)
	assert.Equal(t, domain.KindJoin, n.Kind)
	assert.Equal(t, joinText, n.Text)
}

func TestHandleNotificationTracksUnjoinedVoters(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	require.NoError(t, r.HandleNotification("こんにちは", false, nil, "v1", "taro"))

	list := r.VoterList()
	assert.Empty(t, list.Joined)
	require.Len(t, list.Unjoined, 1)
	assert.Equal(t, "v1", list.Unjoined[0].ID)
	assert.Equal(t, 1, list.TotalCount)
}

func TestHandleNotificationVoteTallied(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	require.NoError(t, r.StartVote(60*time.Second))
	require.NoError(t, r.HandleNotification("７六歩", false, nil, "v1", "taro"))

	res := r.VoteResult()
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "７六歩", res.Candidates[0].Text)
	assert.Equal(t, 1, res.Candidates[0].Count)
	assert.Equal(t, domain.StateVoting, res.State)
}

func TestHandleNotificationRejectsEmptyText(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	err := r.HandleNotification("   ", false, nil, "v1", "taro")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestBroadcastNotificationDropsInvalid(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)
	before := conn.countOf("Notification")

	r.BroadcastNotification(domain.Notification{Kind: domain.KindSystem, Text: ""})
	assert.Equal(t, before, conn.countOf("Notification"))
}

// --- Endroll ---

func TestEndRollBroadcastAndLateJoiner(t *testing.T) {
	_, r, _, conn, _ := newTestRoom(t)

	assert.Error(t, r.StartEndRoll(0))
	require.NoError(t, r.StartEndRoll(638000000000000000))

	last, ok := conn.lastOf("StartEndRoll")
	require.True(t, ok)
	assert.Equal(t, int64(638000000000000000), last.params.(EndRollState).StartTimeTicks)

	lateConn := &mockConn{}
	_, err := r.Enter(lateConn, "guest-9", "late", "secret")
	require.NoError(t, err)
	_, ok = lateConn.lastOf("StartEndRoll")
	assert.True(t, ok)

	r.StopEndRoll()
	_, ok = conn.lastOf("StopEndRoll")
	assert.True(t, ok)

	// After the stop, new joiners see nothing.
	afterConn := &mockConn{}
	_, err = r.Enter(afterConn, "guest-10", "later", "secret")
	require.NoError(t, err)
	_, ok = afterConn.lastOf("StartEndRoll")
	assert.False(t, ok)
}

// --- Live rooms ---

func TestLiveOperationLifecycle(t *testing.T) {
	_, r, owner, _, _ := newTestRoom(t)

	_, err := r.LiveOperation(owner, LiveOpAdd, testLive, nil)
	require.NoError(t, err)
	require.NotNil(t, owner.LiveRooms().Find(testLive))

	attr := &liveroom.Attribute{AllowPost: true, OwnerID: "b1", OwnerName: "broadcaster"}
	_, err = r.LiveOperation(owner, LiveOpSetAttribute, testLive, attr)
	require.NoError(t, err)

	got, err := r.LiveOperation(owner, LiveOpGetAttribute, testLive, nil)
	require.NoError(t, err)
	assert.Equal(t, *attr, *got)

	// Setting the attribute records the broadcast owner as a voter.
	list := r.VoterList()
	require.Len(t, list.LiveOwners, 1)
	assert.Equal(t, "broadcaster", list.LiveOwners[0].Name)

	_, err = r.LiveOperation(owner, LiveOpRemove, testLive, nil)
	require.NoError(t, err)
	assert.Nil(t, owner.LiveRooms().Find(testLive))
}

func TestLiveOperationErrors(t *testing.T) {
	_, r, owner, _, _ := newTestRoom(t)

	_, err := r.LiveOperation(owner, LiveOpGetAttribute, testLive, nil)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = r.LiveOperation(owner, LiveOperationKind("bogus"), testLive, nil)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = r.LiveOperation(owner, LiveOpAdd, testLive, nil)
	require.NoError(t, err)
	_, err = r.LiveOperation(owner, LiveOpSetAttribute, testLive, nil)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestLiveConnectedRegistersCommenter(t *testing.T) {
	_, r, owner, _, _ := newTestRoom(t)

	// The live room lives under the owner's manager but any participant
	// may report a connection to it.
	_, err := r.LiveOperation(owner, LiveOpAdd, testLive, nil)
	require.NoError(t, err)

	guest, err := r.Enter(&mockConn{}, "guest-1", "bob", "secret")
	require.NoError(t, err)

	require.NoError(t, r.LiveConnected(guest, testLive, 1))
	lr := owner.LiveRooms().Find(testLive)
	require.NotNil(t, lr)
	assert.Equal(t, 1, lr.CommenterCount())

	err = r.LiveConnected(guest, testLive, 99)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	err = r.LiveConnected(guest, domain.LiveData{Site: "nico", ID: "lv999"}, 0)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestCommenterStateChanged(t *testing.T) {
	_, r, owner, _, _ := newTestRoom(t)

	_, err := r.LiveOperation(owner, LiveOpAdd, testLive, nil)
	require.NoError(t, err)
	require.NoError(t, r.LiveConnected(owner, testLive, 0))

	require.NoError(t, r.CommenterStateChanged(owner, testLive, true, true))

	err = r.CommenterStateChanged(owner, domain.LiveData{Site: "nico", ID: "lv999"}, true, true)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	guest, err := r.Enter(&mockConn{}, "guest-1", "bob", "secret")
	require.NoError(t, err)
	err = r.CommenterStateChanged(guest, testLive, true, true)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestLiveDisconnected(t *testing.T) {
	_, r, owner, _, _ := newTestRoom(t)

	_, err := r.LiveOperation(owner, LiveOpAdd, testLive, nil)
	require.NoError(t, err)
	require.NoError(t, r.LiveConnected(owner, testLive, 0))

	require.NoError(t, r.LiveDisconnected(owner, testLive))
	assert.Equal(t, 0, owner.LiveRooms().Find(testLive).CommenterCount())

	err = r.LiveDisconnected(owner, domain.LiveData{Site: "nico", ID: "lv999"})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

// --- Heartbeats ---

func TestHeartbeatStoresCounters(t *testing.T) {
	_, r, _, _, _ := newTestRoom(t)

	require.NoError(t, r.Heartbeat(testLive, domain.Heartbeat{Visitors: 120, Comments: 4500}))
	require.NoError(t, r.Heartbeat(testLive, domain.Heartbeat{Visitors: 125, Comments: 4600}))

	hbs := r.Heartbeats()
	require.Len(t, hbs, 1)
	assert.Equal(t, domain.Heartbeat{Visitors: 125, Comments: 4600}, hbs[testLive])

	err := r.Heartbeat(domain.LiveData{}, domain.Heartbeat{})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}
