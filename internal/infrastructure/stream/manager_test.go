package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func testManagerConfig(url string) Config {
	return Config{
		URL:               url,
		HandshakeTimeout:  time.Second,
		HeartbeatInterval: time.Minute,
		StaleAfter:        time.Minute,
		ReconnectInitial:  10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
		MaxReconnects:     5,
		BreakerThreshold:  5,
		BreakerCooldown:   time.Second,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	var upgrader websocket.Upgrader
	frames := make(chan subscribeFrame, 16)
	var connCount atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connCount.Add(1)
		var f subscribeFrame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return
		}
		frames <- f
		if n == 1 {
			// Drop the first connection without a close frame so the
			// client sees an abnormal close.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testManagerConfig(wsURL(srv)), zap.NewNop())
	defer m.Disconnect()

	if err := m.Subscribe("NEWUSDT", ChannelTickers); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	want := topicFor(ChannelTickers, "NEWUSDT")
	for i := 0; i < 2; i++ {
		select {
		case f := <-frames:
			if f.Method != "SUBSCRIPTION" || len(f.Params) != 1 || f.Params[0] != want {
				t.Errorf("connection %d frame = %+v, want SUBSCRIPTION %s", i+1, f, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d never received a subscription frame", i+1)
		}
	}

	waitForState(t, m, StateConnected)
	if got := m.Health().Reconnects; got < 1 {
		t.Errorf("Reconnects = %d, want >= 1", got)
	}
}

func TestReconnectExhaustionFiresOnDown(t *testing.T) {
	var upgrader websocket.Upgrader
	var accepted atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Swap(true) {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	cfg := testManagerConfig(wsURL(srv))
	cfg.MaxReconnects = 2
	m := NewManager(cfg, zap.NewNop())
	defer m.Disconnect()

	down := make(chan error, 1)
	m.OnDown(func(err error) { down <- err })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	select {
	case err := <-down:
		if err == nil {
			t.Error("OnDown fired with nil reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDown not invoked after reconnect exhaustion")
	}

	if got := m.State(); got != StateDisconnected {
		t.Errorf("state after exhaustion = %s, want disconnected", got)
	}
	m.mu.Lock()
	armed := m.stopCh != nil
	m.mu.Unlock()
	if armed {
		t.Error("background loops still armed after exhaustion")
	}
}

func TestConcurrentSubscribeWrites(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan string, 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f subscribeFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Method == "SUBSCRIPTION" {
				for _, p := range f.Params {
					received <- p
				}
			}
		}
	}))
	defer srv.Close()

	cfg := testManagerConfig(wsURL(srv))
	// Aggressive heartbeat so pings interleave with the subscribe writes.
	cfg.HeartbeatInterval = time.Millisecond
	m := NewManager(cfg, zap.NewNop())
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Subscribe(fmt.Sprintf("SYM%dUSDT", i), ChannelTickers); err != nil {
				t.Errorf("Subscribe(%d) = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got := make(map[string]bool, n)
	for len(got) < n {
		select {
		case topic := <-received:
			got[topic] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d distinct topics, want %d", len(got), n)
		}
	}
}
