package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/notify"
)

func TestWebhookSend(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := notify.NewWebhookChannel(srv.URL, time.Second, zap.NewNop())
	if ch.Type() != domain.ChannelWebhook {
		t.Errorf("Type() = %v", ch.Type())
	}
	if !ch.IsAvailable() {
		t.Error("IsAvailable() = false with an endpoint configured")
	}

	err := ch.Send(context.Background(), "system down", "ops-routing", domain.UrgencyHigh)
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if received["routing_key"] != "ops-routing" || received["message"] != "system down" || received["urgency"] != "high" {
		t.Errorf("payload = %v", received)
	}
}

func TestWebhookSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := notify.NewWebhookChannel(srv.URL, time.Second, zap.NewNop())
	if err := ch.Send(context.Background(), "m", "r", domain.UrgencyHigh); err == nil {
		t.Error("Send() = nil for a 502 response")
	}
}

func TestWebhookUnavailableWithoutEndpoint(t *testing.T) {
	ch := notify.NewWebhookChannel("", time.Second, zap.NewNop())
	if ch.IsAvailable() {
		t.Error("IsAvailable() = true with no endpoint")
	}
}

func TestVoiceRefusesNonCritical(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	ch := notify.NewVoiceChannel(srv.URL, time.Second, zap.NewNop())
	err := ch.Send(context.Background(), "heads up", "+100", domain.UrgencyHigh)
	if !errors.Is(err, notify.ErrBelowCallUrgency) {
		t.Errorf("Send(high) = %v, want ErrBelowCallUrgency", err)
	}
	if called {
		t.Error("gateway was called for a non-critical message")
	}
}

func TestVoicePlacesCriticalCall(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls" {
			t.Errorf("path = %s, want /calls", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	ch := notify.NewVoiceChannel(srv.URL, time.Second, zap.NewNop())
	if err := ch.Send(context.Background(), "exchange halted", "+100", domain.UrgencyCritical); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if received["to"] != "+100" || received["speech"] != "exchange halted" {
		t.Errorf("payload = %v", received)
	}
}
