package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestLoginStoresTokenAndKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if req["email"] != "alice@example.com" {
			t.Errorf("login email = %q", req["email"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"token":   "tok-1",
			"user": map[string]any{
				"id": "u1", "email": "alice@example.com",
				"api_key": "0123456789abcdef0123456789abcdef",
			},
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", nil)
	account, err := c.Login(context.Background(), "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if account.APIKey == "" {
		t.Fatal("login did not surface the api key")
	}
	if c.Token() != "tok-1" {
		t.Fatalf("token = %q, want tok-1", c.Token())
	}
}

func TestErrorResponsesSurfaceServerMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "Invalid API key",
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "tok", nil)
	c.SetAPIKey("bogus")
	if _, err := c.SendText(context.Background(), "14155552671", "hi"); err == nil || err.Error() != "Invalid API key" {
		t.Fatalf("err = %v, want Invalid API key", err)
	}
}

func TestSendTextUsesAPIKeyHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "key-1" {
			t.Errorf("X-API-Key = %q, want key-1", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "messageId": "true_x_1",
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", nil)
	c.SetAPIKey("key-1")
	result, err := c.SendText(context.Background(), "14155552671", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.MessageID != "true_x_1" {
		t.Fatalf("messageId = %q", result.MessageID)
	}
}

// connectScript emulates the daemon during the pairing flow: init, a run
// of pairing polls with changing codes, then connected.
type connectScript struct {
	mu    sync.Mutex
	polls int
}

func (s *connectScript) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whatsapp/init":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "initialized": true,
			})
		case "/whatsapp/qr":
			s.mu.Lock()
			s.polls++
			n := s.polls
			s.mu.Unlock()
			switch {
			case n == 1:
				json.NewEncoder(w).Encode(map[string]any{
					"success": true, "connected": false, "qrCode": nil,
				})
			case n < 4:
				json.NewEncoder(w).Encode(map[string]any{
					"success": true, "connected": false,
					"qrCode": "2@code-" + string(rune('0'+n)),
				})
			default:
				json.NewEncoder(w).Encode(map[string]any{
					"success": true, "connected": true,
				})
			}
		case "/whatsapp/status":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "connected": true, "state": "ready",
				"clientInfo": map[string]any{"pushname": "Alice", "phone": "14155552671"},
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestConnectRendersFreshCodesUntilConnected(t *testing.T) {
	script := &connectScript{}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "tok", nil)

	var rendered []string
	status, err := c.Connect(context.Background(), ConnectOptions{
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
		RenderCode:   func(code string) { rendered = append(rendered, code) },
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !status.Connected || status.ClientInfo == nil || status.ClientInfo.Pushname != "Alice" {
		t.Fatalf("status = %+v, want connected as Alice", status)
	}
	if len(rendered) != 2 {
		t.Fatalf("rendered %d codes, want 2 distinct codes", len(rendered))
	}
	if rendered[0] == rendered[1] {
		t.Fatal("duplicate code rendered; only fresh payloads should render")
	}
}

func TestConnectShortCircuitsWhenAlreadyConnected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whatsapp/init":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "connected": true,
			})
		case "/whatsapp/status":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "connected": true, "state": "ready",
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "tok", nil)
	status, err := c.Connect(context.Background(), ConnectOptions{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !status.Connected {
		t.Fatal("status not connected")
	}
}

func TestConnectTimesOutWithoutConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whatsapp/init":
			json.NewEncoder(w).Encode(map[string]any{"success": true, "initialized": true})
		case "/whatsapp/qr":
			json.NewEncoder(w).Encode(map[string]any{"success": true, "connected": false, "qrCode": "2@stuck"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "tok", nil)
	_, err := c.Connect(context.Background(), ConnectOptions{
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("connect succeeded, want timeout")
	}
}
