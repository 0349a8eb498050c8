package rpc

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
	"github.com/ebifrier/Okiami-sub000/internal/room"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := room.NewRegistry(room.Deps{
		Clock:    clock,
		NetClock: domain.NetworkClockFunc(clock.Now),
		Relay: liveroom.Config{
			SubRoomCount:      2,
			CommenterCap:      3,
			PostNotifications: true,
		},
		ExtendSpan: 60 * time.Second,
		ExtendMin:  15 * time.Second,
	})
	return NewServer(reg, slog.Default())
}

// newTestConn builds a connection without a socket; commands pile up in the
// send buffer instead of going anywhere.
func newTestConn() *Conn {
	return &Conn{
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
}

func call(t *testing.T, s *Server, c *Conn, method string, params any) Frame {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return s.dispatch(c, Frame{Type: FrameRequest, ID: 1, Method: method, Params: raw})
}

func mustResult[T any](t *testing.T, resp Frame) T {
	t.Helper()
	require.Equal(t, 0, resp.Code, "unexpected error: %s", resp.Error)
	var v T
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	return v
}

func createTestRoom(t *testing.T, s *Server) *Conn {
	t.Helper()
	c := newTestConn()
	resp := call(t, s, c, "CreateRoom", CreateRoomParams{
		Name: "study", Password: "secret", OwnerID: "owner-1", OwnerName: "alice",
	})
	require.Equal(t, 0, resp.Code, resp.Error)
	return c
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.dispatch(newTestConn(), Frame{Type: FrameRequest, ID: 7, Method: "Bogus"})
	assert.Equal(t, FrameResponse, resp.Type)
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, errors.CodeNotFound, resp.Code)
}

func TestDispatchMalformedParams(t *testing.T) {
	s := newTestServer(t)
	c := newTestConn()

	resp := s.dispatch(c, Frame{
		Type: FrameRequest, ID: 1, Method: "CreateRoom",
		Params: json.RawMessage(`"not an object"`),
	})
	assert.Equal(t, errors.CodeValidation, resp.Code)
}

func TestCreateRoomBindsConnection(t *testing.T) {
	s := newTestServer(t)
	c := newTestConn()

	resp := call(t, s, c, "CreateRoom", CreateRoomParams{
		Name: "study", Password: "secret", OwnerID: "owner-1", OwnerName: "alice",
	})
	entry := mustResult[RoomEntryResult](t, resp)
	assert.Equal(t, "study", entry.Room.Name)
	assert.Equal(t, 0, entry.ParticipantNo)

	r, p := c.session()
	require.NotNil(t, r)
	assert.True(t, r.IsOwner(p))

	// One session per connection.
	resp = call(t, s, c, "CreateRoom", CreateRoomParams{
		Name: "another", OwnerID: "owner-1", OwnerName: "alice",
	})
	assert.Equal(t, errors.CodeBadState, resp.Code)
}

func TestEnterRoom(t *testing.T) {
	s := newTestServer(t)
	createTestRoom(t, s)

	guest := newTestConn()
	resp := call(t, s, guest, "EnterRoom", EnterRoomParams{
		RoomID: 0, Password: "wrong", ParticipantID: "guest-1", Name: "bob",
	})
	assert.Equal(t, errors.CodeUnauthorized, resp.Code)

	resp = call(t, s, guest, "EnterRoom", EnterRoomParams{
		RoomID: 5, Password: "secret", ParticipantID: "guest-1", Name: "bob",
	})
	assert.Equal(t, errors.CodeNotFound, resp.Code)

	resp = call(t, s, guest, "EnterRoom", EnterRoomParams{
		RoomID: 0, Password: "secret", ParticipantID: "guest-1", Name: "bob",
	})
	entry := mustResult[RoomEntryResult](t, resp)
	assert.Equal(t, 1, entry.ParticipantNo)
	assert.Equal(t, 2, entry.Room.Participants)
}

func TestOwnerOnlyGating(t *testing.T) {
	s := newTestServer(t)

	// Not in a room at all.
	resp := call(t, s, newTestConn(), "StartVote", SpanParams{Seconds: 60})
	assert.Equal(t, errors.CodeBadState, resp.Code)

	createTestRoom(t, s)
	guest := newTestConn()
	resp = call(t, s, guest, "EnterRoom", EnterRoomParams{
		RoomID: 0, Password: "secret", ParticipantID: "guest-1", Name: "bob",
	})
	require.Equal(t, 0, resp.Code, resp.Error)

	resp = call(t, s, guest, "StartVote", SpanParams{Seconds: 60})
	assert.Equal(t, errors.CodeForbidden, resp.Code)
}

func TestTimeControlRoundTrip(t *testing.T) {
	s := newTestServer(t)
	owner := createTestRoom(t, s)

	resp := call(t, s, owner, "StartVote", SpanParams{Seconds: 60})
	require.Equal(t, 0, resp.Code, resp.Error)

	info := mustResult[RoomInfoResult](t, call(t, s, owner, "GetRoomInfo", nil))
	assert.Equal(t, domain.StateVoting, info.Result.State)
	assert.InDelta(t, 60.3, info.Result.VoteSpanSeconds, 0.001)

	resp = call(t, s, owner, "StopVote", StopVoteParams{AddSeconds: 0})
	require.Equal(t, 0, resp.Code, resp.Error)

	info = mustResult[RoomInfoResult](t, call(t, s, owner, "GetRoomInfo", nil))
	assert.Equal(t, domain.StateStopped, info.Result.State)
}

func TestRoomQueries(t *testing.T) {
	s := newTestServer(t)
	createTestRoom(t, s)

	count := mustResult[RoomCountResult](t, call(t, s, newTestConn(), "GetRoomCount", nil))
	assert.Equal(t, 1, count.Count)

	list := mustResult[RoomListResult](t, call(t, s, newTestConn(), "GetRoomList", RoomListParams{From: 0, To: -1}))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "study", list.Rooms[0].Name)
}

func TestNotificationSpeaksForOwnParticipant(t *testing.T) {
	s := newTestServer(t)
	createTestRoom(t, s)

	guest := newTestConn()
	resp := call(t, s, guest, "EnterRoom", EnterRoomParams{
		RoomID: 0, Password: "secret", ParticipantID: "guest-1", Name: "bob",
	})
	require.Equal(t, 0, resp.Code, resp.Error)

	// A missing voter identity falls back to the sending participant, and
	// the owner claim of a non-owner connection is ignored.
	resp = call(t, s, guest, "Notification", NotificationParams{
		Text: "参加", IsFromOwner: true,
	})
	require.Equal(t, 0, resp.Code, resp.Error)

	voters := mustResult[domain.VoterList](t, call(t, s, guest, "GetVoterList", nil))
	require.Len(t, voters.Joined, 1)
	assert.Equal(t, "guest-1", voters.Joined[0].ID)
	assert.Equal(t, "bob", voters.Joined[0].Name)
}

func TestHeartbeatShowsUpInRoomInfo(t *testing.T) {
	s := newTestServer(t)
	owner := createTestRoom(t, s)

	live := domain.LiveData{Site: "nico", ID: "lv400"}
	resp := call(t, s, owner, "Heartbeat", HeartbeatParams{Live: live, Visitors: 80, Comments: 900})
	require.Equal(t, 0, resp.Code, resp.Error)

	info := mustResult[RoomInfoResult](t, call(t, s, owner, "GetRoomInfo", nil))
	require.Len(t, info.Heartbeats, 1)
	assert.Equal(t, live, info.Heartbeats[0].Live)
	assert.Equal(t, 80, info.Heartbeats[0].Heartbeat.Visitors)
}

func TestLiveOperationOverRPC(t *testing.T) {
	s := newTestServer(t)
	owner := createTestRoom(t, s)

	live := domain.LiveData{Site: "nico", ID: "lv400"}
	resp := call(t, s, owner, "LiveOperation", LiveOperationParams{Op: room.LiveOpAdd, Live: live})
	require.Equal(t, 0, resp.Code, resp.Error)

	attr := liveroom.Attribute{AllowPost: true, OwnerID: "b1", OwnerName: "broadcaster"}
	resp = call(t, s, owner, "LiveOperation", LiveOperationParams{
		Op: room.LiveOpSetAttribute, Live: live, Attribute: &attr,
	})
	require.Equal(t, 0, resp.Code, resp.Error)

	got := mustResult[LiveOperationResult](t, call(t, s, owner, "LiveOperation",
		LiveOperationParams{Op: room.LiveOpGetAttribute, Live: live}))
	require.NotNil(t, got.Attribute)
	assert.Equal(t, attr, *got.Attribute)

	resp = call(t, s, owner, "LiveConnected", LiveConnectedParams{Live: live, SubRoom: 1})
	require.Equal(t, 0, resp.Code, resp.Error)

	resp = call(t, s, owner, "CommenterStateChanged", CommenterStateParams{
		Live: live, CanPost: true, Watching: true,
	})
	require.Equal(t, 0, resp.Code, resp.Error)

	resp = call(t, s, owner, "LiveDisconnected", LiveRefParams{Live: live})
	require.Equal(t, 0, resp.Code, resp.Error)
}

func TestLeaveRoomUnbinds(t *testing.T) {
	s := newTestServer(t)
	owner := createTestRoom(t, s)

	resp := call(t, s, owner, "LeaveRoom", nil)
	require.Equal(t, 0, resp.Code, resp.Error)

	r, p := owner.session()
	assert.Nil(t, r)
	assert.Nil(t, p)

	resp = call(t, s, owner, "GetRoomInfo", nil)
	assert.Equal(t, errors.CodeBadState, resp.Code)

	count := mustResult[RoomCountResult](t, call(t, s, owner, "GetRoomCount", nil))
	assert.Equal(t, 0, count.Count)
}
