// Package rpc carries the wire protocol: JSON frames over a websocket, with
// request/response pairs and fire-and-forget commands in both directions.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
	"github.com/ebifrier/Okiami-sub000/internal/room"
)

// FrameType discriminates the three frame shapes on the socket.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameCommand  FrameType = "command"
)

// Frame is the single envelope exchanged on the socket.
type Frame struct {
	Type   FrameType       `json:"type"`
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   int             `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// --- Request/response payloads ---

type CreateRoomParams struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
}

type EnterRoomParams struct {
	RoomID        int    `json:"roomId"`
	Password      string `json:"password"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

// RoomEntryResult answers both CreateRoom and EnterRoom.
type RoomEntryResult struct {
	Room          room.Summary `json:"room"`
	ParticipantNo int          `json:"participantNo"`
}

type RoomListParams struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type RoomListResult struct {
	Rooms []room.Summary `json:"rooms"`
}

type RoomCountResult struct {
	Count int `json:"count"`
}

// SpanParams carries one span in whole seconds; -1 means unlimited.
type SpanParams struct {
	Seconds float64 `json:"seconds"`
}

type StopVoteParams struct {
	AddSeconds float64 `json:"addSeconds"`
}

type TimeExtendSettingParams struct {
	EndCount      int `json:"endCount"`
	ExtendSeconds int `json:"extendSeconds"`
}

type ChangeVoteModeParams struct {
	Mode         domain.VoteMode `json:"mode"`
	IsMirrorMode bool            `json:"isMirrorMode"`
}

type ParticipantAttributeParams struct {
	Name         string `json:"name"`
	AllowPosting bool   `json:"allowPosting"`
}

type NotificationParams struct {
	Text        string         `json:"text"`
	IsFromOwner bool           `json:"isFromOwner"`
	VoterID     string         `json:"voterId"`
	VoterName   string         `json:"voterName"`
	Origin      *domain.Origin `json:"origin,omitempty"`
}

type LiveOperationParams struct {
	Op        room.LiveOperationKind `json:"op"`
	Live      domain.LiveData        `json:"live"`
	Attribute *liveroom.Attribute    `json:"attribute,omitempty"`
}

type LiveOperationResult struct {
	Attribute *liveroom.Attribute `json:"attribute,omitempty"`
}

type LiveConnectedParams struct {
	Live    domain.LiveData `json:"live"`
	SubRoom int             `json:"subRoom"`
}

type LiveRefParams struct {
	Live domain.LiveData `json:"live"`
}

type CommenterStateParams struct {
	Live     domain.LiveData `json:"live"`
	CanPost  bool            `json:"canPost"`
	Watching bool            `json:"watching"`
}

type HeartbeatParams struct {
	Live     domain.LiveData `json:"live"`
	Visitors int             `json:"visitors"`
	Comments int             `json:"comments"`
}

type EndRollParams struct {
	StartTimeTicks int64 `json:"startTimeTicks"`
}

// LiveHeartbeat flattens the room heartbeat map for JSON.
type LiveHeartbeat struct {
	Live      domain.LiveData  `json:"live"`
	Heartbeat domain.Heartbeat `json:"heartbeat"`
}

// RoomInfoResult answers GetRoomInfo.
type RoomInfoResult struct {
	Room       room.Summary      `json:"room"`
	Result     domain.VoteResult `json:"result"`
	Voters     domain.VoterList  `json:"voters"`
	Heartbeats []LiveHeartbeat   `json:"heartbeats"`
}

// SpanFromSeconds converts the wire representation back to a span.
func SpanFromSeconds(seconds float64) time.Duration {
	if seconds < 0 {
		return domain.Unlimited
	}
	return time.Duration(seconds * float64(time.Second))
}
