package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebifrier/Okiami-sub000/internal/errors"
)

func dialTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	s := newTestServer(t)
	hs := httptest.NewServer(s.echo)
	t.Cleanup(hs.Close)

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	c, err := Dial(context.Background(), url, slog.Default())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return s, c
}

func TestClientCallRoundTrip(t *testing.T) {
	_, c := dialTestServer(t)
	c.Start()

	var entry RoomEntryResult
	err := c.Call(context.Background(), "CreateRoom", CreateRoomParams{
		Name: "study", OwnerID: "owner-1", OwnerName: "alice",
	}, &entry)
	require.NoError(t, err)
	assert.Equal(t, "study", entry.Room.Name)
	assert.Equal(t, 0, entry.ParticipantNo)

	var count RoomCountResult
	require.NoError(t, c.Call(context.Background(), "GetRoomCount", nil, &count))
	assert.Equal(t, 1, count.Count)
}

func TestClientCallSurfacesErrorCodes(t *testing.T) {
	_, c := dialTestServer(t)
	c.Start()

	err := c.Call(context.Background(), "EnterRoom", EnterRoomParams{
		RoomID: 9, ParticipantID: "guest-1", Name: "bob",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	err = c.Call(context.Background(), "NoSuchMethod", nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestClientReceivesServerCommands(t *testing.T) {
	_, c := dialTestServer(t)

	var mu sync.Mutex
	var notified []string
	c.Handle("Notification", func(params json.RawMessage) {
		var p NotificationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		mu.Lock()
		notified = append(notified, p.Text)
		mu.Unlock()
	})
	c.Start()

	require.NoError(t, c.Call(context.Background(), "CreateRoom", CreateRoomParams{
		Name: "study", OwnerID: "owner-1", OwnerName: "alice",
	}, nil))

	// The join announcement comes back as a fire-and-forget command.
	require.NoError(t, c.Notify(context.Background(), "Notification", NotificationParams{
		Text: "参加", VoterID: "v1", VoterName: "taro",
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 1 && notified[0] == "参加"
	}, time.Second, time.Millisecond)
}

func TestClientCallAfterCloseFails(t *testing.T) {
	_, c := dialTestServer(t)
	c.Start()
	c.Close()

	err := c.Call(context.Background(), "GetRoomCount", nil, nil)
	assert.Error(t, err)
}
