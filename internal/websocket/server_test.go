package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringlab/flighttrack/internal/config"
	"github.com/soaringlab/flighttrack/internal/flight"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

func startTestServer(t *testing.T) (*Server, *gorilla.Conn) {
	t.Helper()

	server := NewServer(logger.NewNop())
	go server.Run()

	ts := httptest.NewServer(http.HandlerFunc(server.HandleConnection))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// let the hub register the client before broadcasting
	time.Sleep(100 * time.Millisecond)

	return server, conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBroadcastReachesClient(t *testing.T) {
	server, conn := startTestServer(t)

	server.Broadcast(&Message{
		Type: "takeoff",
		Data: map[string]any{"aircraft_id": "PH-400"},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "takeoff", msg.Type)
	assert.Equal(t, "PH-400", msg.Data["aircraft_id"])
}

func TestBridgeForwardsFactoryEvents(t *testing.T) {
	server, conn := startTestServer(t)

	factory := flight.NewFactory(config.Default().Tracking, logger.NewNop())
	bridge := NewBridge(server, factory, logger.NewNop())
	defer bridge.Stop()

	base := time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)
	factory.Enqueue([]flight.PositionUpdate{
		{AircraftID: "PH-401", Timestamp: base, Latitude: 52, Longitude: 5, Altitude: 0, Speed: 0, Heading: 0},
		{AircraftID: "PH-401", Timestamp: base.Add(10 * time.Second), Latitude: 52, Longitude: 5, Altitude: 0, Speed: 60, Heading: 90},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "takeoff", msg.Type)
	assert.Equal(t, "PH-401", msg.Data["aircraft_id"])

	fl, ok := msg.Data["flight"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PH-401", fl["aircraft_id"])
	assert.Equal(t, "none", fl["launch_method"])
	assert.Equal(t, "estimated", fl["departure_info"])
}

func TestBridgeStopUnsubscribes(t *testing.T) {
	server := NewServer(logger.NewNop())
	go server.Run()

	factory := flight.NewFactory(config.Default().Tracking, logger.NewNop())
	bridge := NewBridge(server, factory, logger.NewNop())
	bridge.Stop()

	// no subscribers left: enqueueing must not block or panic
	base := time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)
	factory.Enqueue([]flight.PositionUpdate{
		{AircraftID: "PH-402", Timestamp: base, Latitude: 52, Longitude: 5, Speed: 0},
		{AircraftID: "PH-402", Timestamp: base.Add(10 * time.Second), Latitude: 52, Longitude: 5, Speed: 60, Heading: 90},
	})
}
