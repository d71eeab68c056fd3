package server

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/realm/pkg/protocol"
)

func dialWebSocket(t *testing.T, l *Listener) *testPeer {
	t.Helper()
	srv := httptest.NewServer(l.WebSocketHandler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	conn := NewWebSocketConn(ws)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{conn: conn, r: bufio.NewReader(conn), registry: protocol.NewDefaultRegistry()}
}

func TestWebSocketHandshake(t *testing.T) {
	rec := newRecorder()
	l := newTestListener(t, nil, rec)
	peer := dialWebSocket(t, l)

	pa, _ := peer.handshake(t)

	c, ok := l.Connection(ConnectionID(pa.ConnectionID))
	if !ok {
		t.Fatal("websocket connection not listed")
	}
	if c.Transport() != "websocket" {
		t.Errorf("Transport() = %q, want websocket", c.Transport())
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %v, want Connected", c.State())
	}
}

func TestWebSocketSplitFrames(t *testing.T) {
	l := newTestListener(t, nil, newRecorder())
	peer := dialWebSocket(t, l)

	// Two frames split across three messages.
	first, _ := protocol.Encode(&protocol.Ping{Nonce: 1})
	second, _ := protocol.Encode(&protocol.Ping{Nonce: 2})
	stream := append(first, second...)
	cuts := []int{0, 3, len(first) + 2, len(stream)}
	for i := 0; i+1 < len(cuts); i++ {
		if _, err := peer.conn.Write(stream[cuts[i]:cuts[i+1]]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	for want := uint32(1); want <= 2; want++ {
		pong, ok := peer.recv(t).(*protocol.Pong)
		if !ok || pong.Nonce != want {
			t.Fatalf("reply = %+v, want Pong %d", pong, want)
		}
	}
}

func TestWebSocketDisconnect(t *testing.T) {
	rec := newRecorder()
	l := newTestListener(t, nil, rec)
	peer := dialWebSocket(t, l)

	pa, _ := peer.handshake(t)
	l.Disconnect(ConnectionID(pa.ConnectionID), protocol.NewDisconnect(protocol.ReasonKicked, "bye"))

	d, ok := peer.recv(t).(*protocol.Disconnect)
	if !ok || d.Reason != protocol.ReasonKicked {
		t.Fatalf("reply = %+v, want Disconnect{Kicked}", d)
	}
	peer.expectClosed(t)
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	l := newTestListener(t, nil, newRecorder())
	srv := httptest.NewServer(l.WebSocketHandler())
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://elsewhere.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	_, resp, err := dialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() succeeded for a cross-origin request")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if l.Count() != 0 {
		t.Errorf("Count() = %d, want 0", l.Count())
	}
}
