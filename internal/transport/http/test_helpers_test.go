package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/auth"
	"github.com/vovakirdan/wirechat-dm/internal/config"
	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/proto"
	"github.com/vovakirdan/wirechat-dm/internal/service/friends"
	"github.com/vovakirdan/wirechat-dm/internal/store/sqlite"
)

type testServer struct {
	*httptest.Server
	deps Deps
}

// startTestServer wires the full stack over an in-memory store.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.HeartbeatInterval = time.Second
	cfg.HeartbeatTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	friendSvc := friends.New(st, st, &logger)
	registry := core.NewRegistry()
	router := core.NewRouter(registry, friendSvc, st, st, core.RouterConfig{
		MaxContentLength: cfg.MaxContentLength,
		PersistTimeout:   cfg.PersistTimeout,
	}, &logger)

	deps := Deps{Auth: authSvc, Friends: friendSvc, Store: st, Registry: registry, Router: router}
	ts := httptest.NewServer(NewServer(deps, &cfg, &logger).Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, deps: deps}
}

// doJSON performs a request and decodes the JSON response into out when non-nil.
func (s *testServer) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// signup registers a user over REST and returns its token and id.
func (s *testServer) signup(t *testing.T, name string) (string, int64) {
	t.Helper()

	var resp AuthResponse
	status := s.doJSON(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: name, Password: "password123"}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d", name, status)
	}
	return resp.Token, resp.User.ID
}

// befriend makes a and b friends through the REST API.
func (s *testServer) befriend(t *testing.T, aToken string, bToken string, bID int64) {
	t.Helper()

	var req FriendRequestResponse
	if status := s.doJSON(t, http.MethodPost, "/api/friends/requests", aToken, SendFriendRequestRequest{UserID: bID}, &req); status != http.StatusCreated {
		t.Fatalf("send request: status %d", status)
	}
	path := "/api/friends/requests/" + itoa(req.ID) + "/accept"
	if status := s.doJSON(t, http.MethodPut, path, bToken, nil, nil); status != http.StatusOK {
		t.Fatalf("accept request: status %d", status)
	}
}

func (s *testServer) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(s.URL, "http", "ws", 1) + "/ws" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until one matches event ("error" matches error frames).
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) wireOutbound {
	t.Helper()

	for {
		var out wireOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if out.Event == event || (event == proto.OutboundTypeError && out.Type == proto.OutboundTypeError) {
			return out
		}
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
