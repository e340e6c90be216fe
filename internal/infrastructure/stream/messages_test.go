package stream

import (
	"testing"

	"go.uber.org/zap"
)

func TestParseTickerFrame(t *testing.T) {
	raw := []byte(`{
		"c": "spot@public.miniTicker.v3.api@NEWUSDT",
		"s": "NEWUSDT",
		"t": 1700000000000,
		"d": {"p":"0.5123","r":"0.01","rp":"2.5","v":"150000","h":"0.6","l":"0.4","b":"0.51","a":"0.52","tt":1700000000500}
	}`)

	msg, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage() = %v", err)
	}
	ticker, ok := msg.(TickerMessage)
	if !ok {
		t.Fatalf("message type = %T, want TickerMessage", msg)
	}
	if ticker.Tick.Symbol != "NEWUSDT" {
		t.Errorf("Symbol = %q, want NEWUSDT", ticker.Tick.Symbol)
	}
	if ticker.Tick.LastPrice != 0.5123 {
		t.Errorf("LastPrice = %v, want 0.5123", ticker.Tick.LastPrice)
	}
	if ticker.Tick.ChangePct24h != 2.5 {
		t.Errorf("ChangePct24h = %v, want 2.5", ticker.Tick.ChangePct24h)
	}
	if ticker.Tick.Volume24h != 150000 {
		t.Errorf("Volume24h = %v, want 150000", ticker.Tick.Volume24h)
	}
	if ticker.Tick.EventTime.UnixMilli() != 1700000000000 {
		t.Errorf("EventTime = %v", ticker.Tick.EventTime)
	}
}

func TestParseStatusFrame(t *testing.T) {
	raw := []byte(`{
		"c": "spot@public.symbolStatus.v3.api@NEWUSDT",
		"s": "NEWUSDT",
		"t": 1700000000000,
		"d": {"id":"abc123","sts":2,"st":2,"tt":4}
	}`)

	msg, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage() = %v", err)
	}
	status, ok := msg.(StatusMessage)
	if !ok {
		t.Fatalf("message type = %T, want StatusMessage", msg)
	}
	if status.Status.Sts != 2 || status.Status.St != 2 || status.Status.Tt != 4 {
		t.Errorf("codes = (%d,%d,%d), want (2,2,4)", status.Status.Sts, status.Status.St, status.Status.Tt)
	}
	if !status.Status.IsReadyState() {
		t.Error("IsReadyState() = false for (2,2,4)")
	}
}

func TestParseControlFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"pong", `{"msg":"PONG"}`, "pong"},
		{"lowercase pong", `{"msg":"pong"}`, "pong"},
		{"subscription ack", `{"id":1,"code":0,"msg":"spot@public.miniTicker.v3.api@NEWUSDT"}`, "ack"},
		{"unknown frame", `{"c":"spot@public.deals.v3.api@NEWUSDT","s":"NEWUSDT"}`, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parseMessage() = %v", err)
			}
			if msg.kind() != tt.want {
				t.Errorf("kind = %q, want %q", msg.kind(), tt.want)
			}
		})
	}
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"ticker without price", `{"c":"spot@public.miniTicker.v3.api@X","s":"X","d":{"p":"0"}}`},
		{"ticker without symbol", `{"c":"spot@public.miniTicker.v3.api@X","d":{"p":"1.5"}}`},
		{"ticker with garbled price", `{"c":"spot@public.miniTicker.v3.api@X","s":"X","d":{"p":"1.5x"}}`},
		{"ticker with garbled volume", `{"c":"spot@public.miniTicker.v3.api@X","s":"X","d":{"p":"1.5","v":"12,000"}}`},
		{"ticker with garbled change pct", `{"c":"spot@public.miniTicker.v3.api@X","s":"X","d":{"p":"1.5","v":"100","rp":"n/a"}}`},
		{"status without symbol", `{"c":"spot@public.symbolStatus.v3.api@X","d":{"sts":2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseMessage([]byte(tt.raw)); err == nil {
				t.Error("parseMessage() accepted a malformed frame")
			}
		})
	}
}

func TestSubscriptionSetIdempotent(t *testing.T) {
	m := NewManager(Config{URL: "wss://example.invalid/ws"}, zap.NewNop())

	if err := m.Subscribe("NEWUSDT", ChannelTickers); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := m.Subscribe("NEWUSDT", ChannelTickers); err != nil {
		t.Fatalf("duplicate Subscribe() = %v", err)
	}
	if err := m.Subscribe("NEWUSDT", ChannelStatus); err != nil {
		t.Fatalf("Subscribe(status) = %v", err)
	}
	if got := m.SubscriptionCount(); got != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", got)
	}

	if err := m.Unsubscribe("NEWUSDT", ChannelTickers); err != nil {
		t.Fatalf("Unsubscribe() = %v", err)
	}
	if err := m.Unsubscribe("OTHERUSDT", ChannelTickers); err != nil {
		t.Fatalf("Unsubscribe(unknown) = %v, want nil", err)
	}
	if got := m.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want 1", got)
	}
}

func TestTopicMapping(t *testing.T) {
	if got := topicFor(ChannelTickers, "NEWUSDT"); got != "spot@public.miniTicker.v3.api@NEWUSDT" {
		t.Errorf("ticker topic = %q", got)
	}
	if got := topicFor(ChannelStatus, "NEWUSDT"); got != "spot@public.symbolStatus.v3.api@NEWUSDT" {
		t.Errorf("status topic = %q", got)
	}
}
