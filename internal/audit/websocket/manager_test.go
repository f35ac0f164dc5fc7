package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("X-Account", "GWatcher")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	return conn
}

func assetEvent(id domain.AssetID) audit.Event {
	ev := audit.NewEvent(audit.EventCreditsTransferred, "galice")
	ev.AssetID = id
	return ev
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestManagerBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(zap.NewNop())
	server := httptest.NewServer(m)

	conn := dial(t, server)
	require.Eventually(t, func() bool { return m.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Deliver(context.Background(), assetEvent(1)))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, domain.AssetID(1), msg.Event.AssetID)

	conn.Close()
	m.Close()
	server.Close()
}

func TestManagerSubscribeFiltersByAsset(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(zap.NewNop())
	server := httptest.NewServer(m)

	conn := dial(t, server)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AssetIDs: []domain.AssetID{2}}))

	status := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatus, status.Type)
	assert.Equal(t, "subscribed", status.Status)

	require.NoError(t, m.Deliver(context.Background(), assetEvent(1)))
	require.NoError(t, m.Deliver(context.Background(), assetEvent(2)))

	msg := readMessage(t, conn)
	require.NotNil(t, msg.Event)
	assert.Equal(t, domain.AssetID(2), msg.Event.AssetID)

	conn.Close()
	m.Close()
	server.Close()
}

func TestManagerClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(zap.NewNop())
	server := httptest.NewServer(m)

	conn := dial(t, server)
	require.Eventually(t, func() bool { return m.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	m.Close()
	assert.Equal(t, 0, m.ConnectionCount())
	assert.ErrorIs(t, m.Deliver(context.Background(), assetEvent(1)), errHubClosed)

	// the client observes the close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	conn.Close()
	server.Close()
}
