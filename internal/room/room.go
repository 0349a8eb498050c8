package room

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
	"github.com/ebifrier/Okiami-sub000/internal/logging"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
	"github.com/ebifrier/Okiami-sub000/internal/timekeeper"
	"github.com/ebifrier/Okiami-sub000/internal/vote"
)

// resultInterval is the cadence of the periodic vote-result broadcast.
const resultInterval = 1 * time.Second

// joinText is the chat command a voter sends to join the session.
const joinText = "参加"

// voteEndedText is the room-wide announcement when the countdown runs out.
const voteEndedText = "投票が終了しました"

// Deps bundles everything a room needs from its environment.
type Deps struct {
	Clock    clockwork.Clock
	NetClock domain.NetworkClock

	Relay      liveroom.Config
	ExtendSpan time.Duration
	ExtendMin  time.Duration

	// OnEmpty is called once the last participant leaves, after the room
	// tore itself down.
	OnEmpty func(*Room)
}

// Summary is the wire snapshot of a room for list/count queries.
type Summary struct {
	ID           int              `json:"id"`
	Name         string           `json:"name"`
	HasPassword  bool             `json:"hasPassword"`
	OwnerName    string           `json:"ownerName"`
	Participants int              `json:"participants"`
	State        domain.VoteState `json:"state"`
}

// StateSnapshot is the room-state broadcast sent on every timing change.
type StateSnapshot struct {
	State            domain.VoteState `json:"state"`
	VoteSpanSeconds  float64          `json:"voteSpanSeconds"`
	TotalSpanSeconds float64          `json:"totalSpanSeconds"`
}

// Room is one voting session and the hub for all of its broadcasts.
type Room struct {
	mu sync.Mutex

	id       int
	name     string
	password string
	ownerID  string

	deps   Deps
	tk     *timekeeper.TimeKeeper
	model  *vote.Model
	voters *VoterListManager

	participants []*Participant
	nextNo       int

	heartbeats map[domain.LiveData]domain.Heartbeat

	// endrollStart is the shared endroll start timestamp in ticks;
	// zero means no endroll is running.
	endrollStart int64

	closed    chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newRoom(id int, name, password, ownerID string, deps Deps) *Room {
	tk := timekeeper.New(deps.Clock, deps.NetClock)
	model := vote.NewModel(tk, deps.ExtendSpan, deps.ExtendMin)

	r := &Room{
		id:         id,
		name:       name,
		password:   password,
		ownerID:    ownerID,
		deps:       deps,
		tk:         tk,
		model:      model,
		voters:     NewVoterListManager(),
		heartbeats: make(map[domain.LiveData]domain.Heartbeat),
		closed:     make(chan struct{}),
		logger:     logging.WithRoom(id),
	}

	tk.SetOnClearExtend(model.ClearTimeExtend)
	tk.SetOnVoteEnded(r.onVoteEnded)
	model.SetRebroadcast(r.BroadcastNotification)

	go r.resultLoop()
	return r
}

func (r *Room) ID() int      { return r.id }
func (r *Room) Name() string { return r.name }

// IsOwner reports whether the participant created the room.
func (r *Room) IsOwner(p *Participant) bool {
	return p != nil && p.ID() == r.ownerID
}

// Summary snapshots the room for list queries.
func (r *Room) Summary() Summary {
	r.mu.Lock()
	count := len(r.participants)
	ownerName := ""
	for _, p := range r.participants {
		if p.ID() == r.ownerID {
			ownerName = p.Name()
			break
		}
	}
	r.mu.Unlock()

	return Summary{
		ID:           r.id,
		Name:         r.name,
		HasPassword:  r.password != "",
		OwnerName:    ownerName,
		Participants: count,
		State:        r.tk.State(),
	}
}

// Enter admits a participant after the password check and announces it.
func (r *Room) Enter(conn domain.Sender, participantID, name, password string) (*Participant, error) {
	if participantID == "" {
		return nil, errors.ValidationError("participant id is empty")
	}
	if r.password != "" && r.password != password {
		return nil, errors.UnauthorizedError("wrong room password")
	}

	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		return nil, errors.BadStateError("room is closed")
	default:
	}

	p := &Participant{
		no:   r.nextNo,
		id:   participantID,
		name: name,
		conn: conn,
	}
	p.lrm = liveroom.NewManager(p, r.Peers, r.deps.Relay, r.deps.Clock)
	r.nextNo++
	r.participants = append(r.participants, p)
	endroll := r.endrollStart
	r.mu.Unlock()

	p.lrm.Start()
	metrics.ParticipantsConnected.Inc()

	r.broadcastCommand("ParticipantChanged", r.participantInfos())
	if endroll != 0 {
		// Late joiners still see the running endroll.
		p.SendCommand("StartEndRoll", EndRollState{StartTimeTicks: endroll})
	}

	r.logger.Info("participant entered", "participant", participantID, "name", name)
	return p, nil
}

// Leave removes a participant and tears down everything it owns. The room
// destroys itself when the last participant leaves.
func (r *Room) Leave(p *Participant) error {
	r.mu.Lock()
	found := false
	for i, q := range r.participants {
		if q == p {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			found = true
			break
		}
	}
	empty := len(r.participants) == 0
	r.mu.Unlock()

	if !found {
		return errors.NotFoundError("participant is not in this room")
	}

	p.lrm.Close()
	metrics.ParticipantsConnected.Dec()
	r.logger.Info("participant left", "participant", p.ID())

	if empty {
		r.close()
		if r.deps.OnEmpty != nil {
			r.deps.OnEmpty(r)
		}
		return nil
	}

	r.broadcastCommand("ParticipantChanged", r.participantInfos())
	return nil
}

// SetParticipantAttribute updates a participant's name and posting opt-in,
// then re-announces the participant list.
func (r *Room) SetParticipantAttribute(p *Participant, name string, allowPosting bool) {
	if name != "" {
		p.SetName(name)
	}
	p.SetAllowPosting(allowPosting)
	r.broadcastCommand("ParticipantChanged", r.participantInfos())
}

// Peers returns the current participants as relay peers.
func (r *Room) Peers() []domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Peer, len(r.participants))
	for i, p := range r.participants {
		out[i] = p
	}
	return out
}

// --- Time control ---

func (r *Room) StartVote(span time.Duration) error {
	if err := r.tk.StartVote(span); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) PauseVote() error {
	if err := r.tk.PauseVote(); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) StopVote(addToTotal time.Duration) error {
	if err := r.tk.StopVote(addToTotal); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) SetVoteSpan(span time.Duration) error {
	if err := r.tk.SetVoteSpan(span); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) AddVoteSpan(diff time.Duration) error {
	if err := r.tk.AddVoteSpan(diff, timekeeper.NoMinimum); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) SetTotalVoteSpan(span time.Duration) error {
	if err := r.tk.SetTotalVoteSpan(span); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) AddTotalVoteSpan(diff time.Duration) error {
	if err := r.tk.AddTotalVoteSpan(diff); err != nil {
		return err
	}
	r.broadcastState()
	return nil
}

func (r *Room) SetTimeExtendSetting(endCount, extendSeconds int) error {
	return r.model.SetTimeExtendSetting(endCount, extendSeconds)
}

// --- Vote control ---

func (r *Room) ChangeVoteMode(mode domain.VoteMode, mirrorMode bool) error {
	if err := r.model.ChangeVoteMode(mode, mirrorMode); err != nil {
		return err
	}
	for _, p := range r.Peers() {
		if part, ok := p.(*Participant); ok {
			part.LiveRooms().SetMirrorAll(mirrorMode)
		}
	}
	r.broadcastCommand("VoteModeChanged", map[string]any{
		"mode":         r.model.Mode(),
		"isMirrorMode": mirrorMode,
	})
	return nil
}

func (r *Room) ClearVote() {
	r.model.ClearVote()
	r.broadcastCommand("VoteResult", r.VoteResult())
}

// VoteResult combines the model tally with the countdown snapshot.
func (r *Room) VoteResult() domain.VoteResult {
	result := r.model.Result()
	state, voteSpan, totalSpan := r.tk.Snapshot()
	result.State = state
	result.VoteSpanSeconds = domain.SpanSeconds(voteSpan)
	result.TotalSpanSeconds = domain.SpanSeconds(totalSpan)
	return result
}

// VoterList snapshots the room's voters.
func (r *Room) VoterList() domain.VoterList {
	return r.voters.Snapshot()
}

// TimeKeeper exposes the countdown for tests and the RPC info query.
func (r *Room) TimeKeeper() *timekeeper.TimeKeeper { return r.tk }

// --- Notifications ---

// HandleNotification ingests one chat-derived notification: validation,
// voter bookkeeping, then the vote model's command pipeline.
func (r *Room) HandleNotification(text string, isFromOwner bool, origin *domain.Origin, voterID, voterName string) error {
	n := domain.Notification{
		Kind:      domain.KindUnknown,
		Color:     domain.ColorDefault,
		Text:      text,
		Origin:    origin,
		VoterID:   voterID,
		VoterName: voterName,
		Timestamp: r.deps.NetClock.Now(),
	}
	if err := n.Validate(); err != nil {
		metrics.NotificationsRejected.Inc()
		return errors.ValidationError(err.Error())
	}

	if trimmed := trimSpace(text); trimmed == joinText {
		r.voters.Join(voterID, voterName)
		n.Kind = domain.KindJoin
		n.Text = trimmed
		r.BroadcastNotification(n)
		return nil
	}

	r.voters.Seen(voterID, voterName)
	r.model.Process(n, isFromOwner)
	return nil
}

// BroadcastNotification validates and fans a notification out to every
// participant, then hands it to the relay pools for mirroring.
func (r *Room) BroadcastNotification(n domain.Notification) {
	if err := n.Validate(); err != nil {
		metrics.NotificationsRejected.Inc()
		r.logger.Warn("dropping invalid notification", "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(n.Kind.String()).Inc()

	// One pass under the room lock: broadcasts never interleave for a
	// single participant.
	r.mu.Lock()
	for _, p := range r.participants {
		p.SendCommand("Notification", n)
		p.LiveRooms().SendNotificationForPost(n)
	}
	r.mu.Unlock()
}

// --- Live rooms / commenters ---

// LiveOperationKind enumerates the live-room management operations.
type LiveOperationKind string

const (
	LiveOpAdd          LiveOperationKind = "add"
	LiveOpRemove       LiveOperationKind = "remove"
	LiveOpSetAttribute LiveOperationKind = "setAttribute"
	LiveOpGetAttribute LiveOperationKind = "getAttribute"
)

// LiveOperation manages the participant's own broadcast registrations.
func (r *Room) LiveOperation(p *Participant, op LiveOperationKind, live domain.LiveData, attr *liveroom.Attribute) (*liveroom.Attribute, error) {
	switch op {
	case LiveOpAdd:
		if _, err := p.LiveRooms().AddLive(live); err != nil {
			return nil, err
		}
		return nil, nil

	case LiveOpRemove:
		r.mu.Lock()
		delete(r.heartbeats, live)
		r.mu.Unlock()
		return nil, p.LiveRooms().RemoveLive(live)

	case LiveOpSetAttribute:
		lr := p.LiveRooms().Find(live)
		if lr == nil {
			return nil, errors.NotFoundError("live is not registered").
				WithContext("live", live.String())
		}
		if attr == nil {
			return nil, errors.ValidationError("attribute is required")
		}
		lr.SetAttribute(*attr)
		r.voters.MarkLiveOwner(attr.OwnerID, attr.OwnerName)
		return nil, nil

	case LiveOpGetAttribute:
		lr := p.LiveRooms().Find(live)
		if lr == nil {
			return nil, errors.NotFoundError("live is not registered").
				WithContext("live", live.String())
		}
		a := lr.Attribute()
		return &a, nil

	default:
		return nil, errors.ValidationError("undefined live operation").
			WithContext("op", string(op))
	}
}

// LiveConnected registers the reporting participant as a commenter of the
// broadcast's sub-room.
func (r *Room) LiveConnected(p *Participant, live domain.LiveData, subRoom int) error {
	lr := r.findLiveRoom(live)
	if lr == nil {
		return errors.NotFoundError("no live room for broadcast").
			WithContext("live", live.String())
	}
	if !lr.Connected(p, subRoom) {
		return errors.ValidationError("sub-room index out of range").
			WithContext("subRoom", subRoom)
	}
	return nil
}

// LiveDisconnected drops the reporting participant's commenter entry.
func (r *Room) LiveDisconnected(p *Participant, live domain.LiveData) error {
	lr := r.findLiveRoom(live)
	if lr == nil {
		return errors.NotFoundError("no live room for broadcast").
			WithContext("live", live.String())
	}
	lr.Disconnected(p.ID())
	return nil
}

// CommenterStateChanged mirrors client-reported availability into the pool.
func (r *Room) CommenterStateChanged(p *Participant, live domain.LiveData, canPost, watching bool) error {
	lr := r.findLiveRoom(live)
	if lr == nil {
		return errors.NotFoundError("no live room for broadcast").
			WithContext("live", live.String())
	}
	if !lr.SetCommenterState(p.ID(), canPost, watching) {
		return errors.NotFoundError("participant is not a commenter of this broadcast")
	}
	return nil
}

// Heartbeat stores a broadcast's visitor/comment counters.
func (r *Room) Heartbeat(live domain.LiveData, hb domain.Heartbeat) error {
	if err := live.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}

	r.mu.Lock()
	r.heartbeats[live] = hb
	r.mu.Unlock()
	return nil
}

// Heartbeats snapshots the per-broadcast counters.
func (r *Room) Heartbeats() map[domain.LiveData]domain.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.LiveData]domain.Heartbeat, len(r.heartbeats))
	for k, v := range r.heartbeats {
		out[k] = v
	}
	return out
}

// --- Endroll ---

// EndRollState is the endroll passthrough payload.
type EndRollState struct {
	StartTimeTicks int64 `json:"startTimeTicks"`
}

func (r *Room) StartEndRoll(startTimeTicks int64) error {
	if startTimeTicks <= 0 {
		return errors.ValidationError("endroll start time must be positive")
	}

	r.mu.Lock()
	r.endrollStart = startTimeTicks
	r.mu.Unlock()

	r.broadcastCommand("StartEndRoll", EndRollState{StartTimeTicks: startTimeTicks})
	return nil
}

func (r *Room) StopEndRoll() {
	r.mu.Lock()
	r.endrollStart = 0
	r.mu.Unlock()

	r.broadcastCommand("StopEndRoll", struct{}{})
}

// --- internals ---

// findLiveRoom locates the relay room for a broadcast across every
// participant's manager.
func (r *Room) findLiveRoom(live domain.LiveData) *liveroom.LiveRoom {
	r.mu.Lock()
	participants := make([]*Participant, len(r.participants))
	copy(participants, r.participants)
	r.mu.Unlock()

	for _, p := range participants {
		if lr := p.LiveRooms().Find(live); lr != nil {
			return lr
		}
	}
	return nil
}

func (r *Room) onVoteEnded() {
	r.BroadcastNotification(domain.Notification{
		Kind:      domain.KindSystem,
		Color:     domain.ColorRed,
		Text:      voteEndedText,
		Timestamp: r.deps.NetClock.Now(),
	})
	r.broadcastState()
}

func (r *Room) broadcastState() {
	state, voteSpan, totalSpan := r.tk.Snapshot()
	r.broadcastCommand("RoomStateChanged", StateSnapshot{
		State:            state,
		VoteSpanSeconds:  domain.SpanSeconds(voteSpan),
		TotalSpanSeconds: domain.SpanSeconds(totalSpan),
	})
}

func (r *Room) broadcastCommand(method string, params any) {
	r.mu.Lock()
	for _, p := range r.participants {
		p.SendCommand(method, params)
	}
	r.mu.Unlock()
}

func (r *Room) participantInfos() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, len(r.participants))
	for i, p := range r.participants {
		out[i] = p.Info()
	}
	return out
}

// resultLoop broadcasts the vote result every second until the room closes.
func (r *Room) resultLoop() {
	ticker := r.deps.Clock.NewTicker(resultInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.broadcastCommand("VoteResult", r.VoteResult())
		case <-r.closed:
			return
		}
	}
}

func (r *Room) close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.tk.Close()
		r.logger.Info("room closed")
	})
}

// trimSpace trims ASCII and full-width spaces.
func trimSpace(s string) string {
	return strings.Trim(s, " \t　")
}
