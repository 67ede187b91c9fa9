package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ========================================
// TEST HELPERS
// ========================================

func startTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()

	handler, _, _ := newTestHandler()
	server := NewServer(handler, zap.NewNop(), Options{})
	require.NoError(t, server.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		cancel()
		<-done
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return server, conn
}

func sendLine(t *testing.T, conn net.Conn, line string) *Response {
	t.Helper()

	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	resp := &Response{}
	require.NoError(t, json.Unmarshal([]byte(raw), resp))
	return resp
}

// ========================================
// TESTS
// ========================================

func TestServerPingRoundTrip(t *testing.T) {
	_, conn := startTestServer(t)

	resp := sendLine(t, conn, `{"type":1,"payload":{}}`)

	assert.Equal(t, OpPing, resp.Type)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Nil(t, resp.Payload.Error)
}

func TestServerMalformedFrameKeepsConnectionOpen(t *testing.T) {
	_, conn := startTestServer(t)

	reader := bufio.NewReader(conn)

	_, err := conn.Write([]byte("{\"type\": \n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := reader.ReadString('\n')
	require.NoError(t, err)

	resp := &Response{}
	require.NoError(t, json.Unmarshal([]byte(raw), resp))
	assert.Equal(t, StatusInvalidInput, resp.Status)
	require.NotNil(t, resp.Payload.Error)
	assert.Contains(t, *resp.Payload.Error, "malformed")

	// The same connection still serves the next frame.
	_, err = conn.Write([]byte(`{"type":1}` + "\n"))
	require.NoError(t, err)
	raw, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), resp))
	assert.Equal(t, StatusOK, resp.Status)
}

func TestServerBlankLinesIgnored(t *testing.T) {
	_, conn := startTestServer(t)

	_, err := conn.Write([]byte("\n\n"))
	require.NoError(t, err)

	resp := sendLine(t, conn, `{"type":1}`)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestServerAuthenticatedFrameOverWire(t *testing.T) {
	_, conn := startTestServer(t)

	frame := map[string]interface{}{
		"type":    OpRiderStatus,
		"payload": map[string]interface{}{"rider_session_token": "rider-tok"},
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	resp := sendLine(t, conn, string(raw))
	assert.Equal(t, OpRiderStatus, resp.Type)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestServerUnknownSessionOverWire(t *testing.T) {
	_, conn := startTestServer(t)

	resp := sendLine(t, conn, `{"type":21,"payload":{"rider_session_token":"bogus"}}`)

	assert.Equal(t, StatusInvalidInput, resp.Status)
	require.NotNil(t, resp.Payload.Error)
	assert.Contains(t, *resp.Payload.Error, "session")
}

func TestServerClosesConnectionOverFrameCap(t *testing.T) {
	handler, _, _ := newTestHandler()
	server := NewServer(handler, zap.NewNop(), Options{MaxFrameBytes: 64})
	require.NoError(t, server.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Serve(ctx) }()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	oversized := `{"type":1,"payload":{"padding":"` + strings.Repeat("x", 200) + `"}}`
	_, err = conn.Write([]byte(oversized + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = bufio.NewReader(conn).ReadString('\n')
	require.Error(t, err, "server must drop the connection instead of replying")
}

func TestServerShutdownStopsAccepting(t *testing.T) {
	server, conn := startTestServer(t)

	resp := sendLine(t, conn, `{"type":1}`)
	require.Equal(t, StatusOK, resp.Status)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(shutdownCtx))

	_, err := net.Dial("tcp", server.Addr().String())
	require.Error(t, err, "listener must be closed after shutdown")
	if !strings.Contains(err.Error(), "refused") && !strings.Contains(err.Error(), "reset") {
		t.Logf("dial after shutdown failed with: %v", err)
	}
}
