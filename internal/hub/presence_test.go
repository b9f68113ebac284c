package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/derek-dv/errand-backend/internal/apperr"
)

func testClient(id string) *Client {
	return &Client{ID: id}
}

func TestPresenceBindUnbind(t *testing.T) {
	p := NewPresenceRegistry()

	require.False(t, p.IsOnline("user-1"))
	require.Equal(t, StatusOffline, p.Status("user-1"))

	p.Bind("user-1", testClient("conn-a"))

	require.True(t, p.IsOnline("user-1"))
	require.Equal(t, StatusOnline, p.Status("user-1"))
	require.Equal(t, 1, p.OnlineCount())

	wentOffline := p.Unbind("user-1", "conn-a")
	require.True(t, wentOffline)
	require.False(t, p.IsOnline("user-1"))
	require.Equal(t, StatusOffline, p.Status("user-1"))
	require.Equal(t, 0, p.OnlineCount())
}

func TestPresenceMultipleConnections(t *testing.T) {
	p := NewPresenceRegistry()

	p.Bind("user-1", testClient("conn-a"))
	p.Bind("user-1", testClient("conn-b"))

	require.True(t, p.IsOnline("user-1"))
	require.Len(t, p.ConnectionsOf("user-1"), 2)
	require.Equal(t, 1, p.OnlineCount())

	// dropping one device keeps the identity online
	require.False(t, p.Unbind("user-1", "conn-a"))
	require.True(t, p.IsOnline("user-1"))

	require.True(t, p.Unbind("user-1", "conn-b"))
	require.False(t, p.IsOnline("user-1"))
}

func TestPresenceUnbindUnknown(t *testing.T) {
	p := NewPresenceRegistry()

	require.False(t, p.Unbind("user-1", "conn-a"))

	p.Bind("user-1", testClient("conn-a"))
	require.False(t, p.Unbind("user-1", "conn-z"))
	require.True(t, p.IsOnline("user-1"))
}

func TestPresenceSetStatus(t *testing.T) {
	p := NewPresenceRegistry()
	p.Bind("user-1", testClient("conn-a"))

	require.NoError(t, p.SetStatus("user-1", StatusAway))
	require.Equal(t, StatusAway, p.Status("user-1"))

	err := p.SetStatus("user-1", "invisible")
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Equal(t, StatusAway, p.Status("user-1"))
}

func TestPresenceStatusCounts(t *testing.T) {
	p := NewPresenceRegistry()

	p.Bind("user-1", testClient("conn-a"))
	p.Bind("user-2", testClient("conn-b"))
	require.NoError(t, p.SetStatus("user-2", StatusBusy))

	counts := p.StatusCounts()
	require.Equal(t, 1, counts[StatusOnline])
	require.Equal(t, 1, counts[StatusBusy])
}
