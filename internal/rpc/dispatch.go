package rpc

import (
	"encoding/json"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
	"github.com/ebifrier/Okiami-sub000/internal/room"
)

type handlerFunc func(c *Conn, params json.RawMessage) (any, error)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"CreateRoom":              s.handleCreateRoom,
		"EnterRoom":               s.handleEnterRoom,
		"LeaveRoom":               s.handleLeaveRoom,
		"GetRoomCount":            s.handleGetRoomCount,
		"GetRoomList":             s.handleGetRoomList,
		"GetRoomInfo":             s.handleGetRoomInfo,
		"GetVoterList":            s.handleGetVoterList,
		"StartVote":               s.ownerOnly(s.handleStartVote),
		"PauseVote":               s.ownerOnly(s.handlePauseVote),
		"StopVote":                s.ownerOnly(s.handleStopVote),
		"SetVoteSpan":             s.ownerOnly(s.handleSetVoteSpan),
		"AddVoteSpan":             s.ownerOnly(s.handleAddVoteSpan),
		"SetTotalVoteSpan":        s.ownerOnly(s.handleSetTotalVoteSpan),
		"AddTotalVoteSpan":        s.ownerOnly(s.handleAddTotalVoteSpan),
		"SetTimeExtendSetting":    s.ownerOnly(s.handleSetTimeExtendSetting),
		"ChangeVoteMode":          s.ownerOnly(s.handleChangeVoteMode),
		"ClearVote":               s.ownerOnly(s.handleClearVote),
		"SetParticipantAttribute": s.handleSetParticipantAttribute,
		"Notification":            s.handleNotification,
		"LiveOperation":           s.handleLiveOperation,
		"LiveConnected":           s.handleLiveConnected,
		"LiveDisconnected":        s.handleLiveDisconnected,
		"CommenterStateChanged":   s.handleCommenterStateChanged,
		"Heartbeat":               s.handleHeartbeat,
		"StartEndRoll":            s.ownerOnly(s.handleStartEndRoll),
		"StopEndRoll":             s.ownerOnly(s.handleStopEndRoll),
	}
}

// dispatch runs a single request frame and returns the response frame.
func (s *Server) dispatch(c *Conn, req Frame) Frame {
	resp := Frame{Type: FrameResponse, ID: req.ID, Method: req.Method}

	handler, ok := s.methods[req.Method]
	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		resp.Code = errors.CodeNotFound
		resp.Error = "unknown method: " + req.Method
		return resp
	}

	result, err := handler(c, req.Params)
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		s.logger.Warn("request failed", "method", req.Method, "error", err)
		resp.Code = errors.CodeOf(err)
		resp.Error = err.Error()
		return resp
	}

	metrics.RPCRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Code = errors.CodeInternal
			resp.Error = "encode result: " + merr.Error()
			return resp
		}
		resp.Result = raw
	}
	return resp
}

// ownerOnly wraps a handler so that only the room owner may call it.
func (s *Server) ownerOnly(h handlerFunc) handlerFunc {
	return func(c *Conn, params json.RawMessage) (any, error) {
		r, p := c.session()
		if r == nil {
			return nil, errors.BadStateError("not in a room")
		}
		if !r.IsOwner(p) {
			return nil, errors.ForbiddenError("operation restricted to the room owner")
		}
		return h(c, params)
	}
}

func (s *Server) requireRoom(c *Conn) (*room.Room, *room.Participant, error) {
	r, p := c.session()
	if r == nil {
		return nil, nil, errors.BadStateError("not in a room")
	}
	return r, p, nil
}

func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, errors.ValidationError("malformed parameters: " + err.Error())
	}
	return v, nil
}

// --- Room lifecycle ---

func (s *Server) handleCreateRoom(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[CreateRoomParams](params)
	if err != nil {
		return nil, err
	}
	if r, _ := c.session(); r != nil {
		return nil, errors.BadStateError("already in a room")
	}
	r, owner, err := s.registry.CreateRoom(p.Name, p.Password, c, p.OwnerID, p.OwnerName)
	if err != nil {
		return nil, err
	}
	c.bind(r, owner)
	return RoomEntryResult{Room: r.Summary(), ParticipantNo: owner.No()}, nil
}

func (s *Server) handleEnterRoom(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[EnterRoomParams](params)
	if err != nil {
		return nil, err
	}
	if r, _ := c.session(); r != nil {
		return nil, errors.BadStateError("already in a room")
	}
	r, err := s.registry.Get(p.RoomID)
	if err != nil {
		return nil, err
	}
	member, err := r.Enter(c, p.ParticipantID, p.Name, p.Password)
	if err != nil {
		return nil, err
	}
	c.bind(r, member)
	return RoomEntryResult{Room: r.Summary(), ParticipantNo: member.No()}, nil
}

func (s *Server) handleLeaveRoom(c *Conn, _ json.RawMessage) (any, error) {
	r, p, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	c.unbind()
	if err := r.Leave(p); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleGetRoomCount(_ *Conn, _ json.RawMessage) (any, error) {
	return RoomCountResult{Count: s.registry.Count()}, nil
}

func (s *Server) handleGetRoomList(_ *Conn, params json.RawMessage) (any, error) {
	p, err := decode[RoomListParams](params)
	if err != nil {
		return nil, err
	}
	return RoomListResult{Rooms: s.registry.List(p.From, p.To)}, nil
}

func (s *Server) handleGetRoomInfo(c *Conn, _ json.RawMessage) (any, error) {
	r, _, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	hbs := r.Heartbeats()
	flat := make([]LiveHeartbeat, 0, len(hbs))
	for live, hb := range hbs {
		flat = append(flat, LiveHeartbeat{Live: live, Heartbeat: hb})
	}
	return RoomInfoResult{
		Room:       r.Summary(),
		Result:     r.VoteResult(),
		Voters:     r.VoterList(),
		Heartbeats: flat,
	}, nil
}

func (s *Server) handleGetVoterList(c *Conn, _ json.RawMessage) (any, error) {
	r, _, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	return r.VoterList(), nil
}

// --- Time control ---

func (s *Server) handleStartVote(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[SpanParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.StartVote(SpanFromSeconds(p.Seconds))
}

func (s *Server) handlePauseVote(c *Conn, _ json.RawMessage) (any, error) {
	r, _ := c.session()
	return nil, r.PauseVote()
}

func (s *Server) handleStopVote(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[StopVoteParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.StopVote(SpanFromSeconds(p.AddSeconds))
}

func (s *Server) handleSetVoteSpan(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[SpanParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.SetVoteSpan(SpanFromSeconds(p.Seconds))
}

func (s *Server) handleAddVoteSpan(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[SpanParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.AddVoteSpan(SpanFromSeconds(p.Seconds))
}

func (s *Server) handleSetTotalVoteSpan(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[SpanParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.SetTotalVoteSpan(SpanFromSeconds(p.Seconds))
}

func (s *Server) handleAddTotalVoteSpan(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[SpanParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.AddTotalVoteSpan(SpanFromSeconds(p.Seconds))
}

func (s *Server) handleSetTimeExtendSetting(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[TimeExtendSettingParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.SetTimeExtendSetting(p.EndCount, p.ExtendSeconds)
}

func (s *Server) handleChangeVoteMode(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[ChangeVoteModeParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.ChangeVoteMode(p.Mode, p.IsMirrorMode)
}

func (s *Server) handleClearVote(c *Conn, _ json.RawMessage) (any, error) {
	r, _ := c.session()
	r.ClearVote()
	return nil, nil
}

// --- Notifications and live rooms ---

func (s *Server) handleSetParticipantAttribute(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[ParticipantAttributeParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	r.SetParticipantAttribute(member, p.Name, p.AllowPosting)
	return nil, nil
}

func (s *Server) handleNotification(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[NotificationParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	// A connection may only speak for its own participant.
	isOwner := p.IsFromOwner && r.IsOwner(member)
	voterID := p.VoterID
	if voterID == "" {
		voterID = member.ID()
	}
	voterName := p.VoterName
	if voterName == "" {
		voterName = member.Name()
	}
	return nil, r.HandleNotification(p.Text, isOwner, p.Origin, voterID, voterName)
}

func (s *Server) handleLiveOperation(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[LiveOperationParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	attr, err := r.LiveOperation(member, p.Op, p.Live, p.Attribute)
	if err != nil {
		return nil, err
	}
	return LiveOperationResult{Attribute: attr}, nil
}

func (s *Server) handleLiveConnected(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[LiveConnectedParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	return nil, r.LiveConnected(member, p.Live, p.SubRoom)
}

func (s *Server) handleLiveDisconnected(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[LiveRefParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	return nil, r.LiveDisconnected(member, p.Live)
}

func (s *Server) handleCommenterStateChanged(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[CommenterStateParams](params)
	if err != nil {
		return nil, err
	}
	r, member, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	return nil, r.CommenterStateChanged(member, p.Live, p.CanPost, p.Watching)
}

func (s *Server) handleHeartbeat(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[HeartbeatParams](params)
	if err != nil {
		return nil, err
	}
	r, _, err := s.requireRoom(c)
	if err != nil {
		return nil, err
	}
	return nil, r.Heartbeat(p.Live, domain.Heartbeat{Visitors: p.Visitors, Comments: p.Comments})
}

// --- End roll ---

func (s *Server) handleStartEndRoll(c *Conn, params json.RawMessage) (any, error) {
	p, err := decode[EndRollParams](params)
	if err != nil {
		return nil, err
	}
	r, _ := c.session()
	return nil, r.StartEndRoll(p.StartTimeTicks)
}

func (s *Server) handleStopEndRoll(c *Conn, _ json.RawMessage) (any, error) {
	r, _ := c.session()
	r.StopEndRoll()
	return nil, nil
}
