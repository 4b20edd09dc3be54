package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// repeat calls send until stop is closed; clients register
// asynchronously after the handshake, so a single send could be missed.
func repeat(send func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			send()
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func readOne(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dial(t, srv)

	stop := repeat(func() { hub.Broadcast([]byte(`{"type":"telemetry"}`)) })
	defer stop()
	if got := readOne(t, conn); got != `{"type":"telemetry"}` {
		t.Fatalf("got %q", got)
	}
}

func TestRelayForwardsRedisMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	relayDone := make(chan error, 1)
	go func() { relayDone <- Relay(ctx, client, "tracker:*", hub, nil) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dial(t, srv)

	stop := repeat(func() { client.Publish(context.Background(), "tracker:bike:alerts", `{"type":"alert"}`) })
	got := readOne(t, conn)
	stop()
	if got != `{"type":"alert"}` {
		t.Fatalf("relayed %q", got)
	}

	cancel()
	if err := <-relayDone; err != nil {
		t.Fatalf("relay: %v", err)
	}
}

func TestBroadcastDoesNotBlockWithoutRunner(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast([]byte("x"))
	}
	if hub.Broadcast([]byte("overflow")) {
		t.Fatalf("broadcast on a full queue must drop")
	}
}
