package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-dm/internal/proto"
)

type account struct {
	Token string `json:"token"`
	User  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := time.Now().Format("150405")
	alice, err := signup(ctx, *base, "smoke_a"+suffix)
	if err != nil {
		return err
	}
	bob, err := signup(ctx, *base, "smoke_b"+suffix)
	if err != nil {
		return err
	}

	var req struct {
		ID int64 `json:"id"`
	}
	if err := call(ctx, http.MethodPost, *base+"/api/friends/requests", alice.Token, map[string]int64{"user_id": bob.User.ID}, &req); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	if err := call(ctx, http.MethodPut, fmt.Sprintf("%s/api/friends/requests/%d/accept", *base, req.ID), bob.Token, nil, nil); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}

	wsBase := strings.Replace(*base, "http", "ws", 1) + "/ws?token="
	connA, _, err := websocket.Dial(ctx, wsBase+alice.Token, nil)
	if err != nil {
		return fmt.Errorf("dial alice: %w", err)
	}
	defer connA.Close(websocket.StatusNormalClosure, "bye")
	connB, _, err := websocket.Dial(ctx, wsBase+bob.Token, nil)
	if err != nil {
		return fmt.Errorf("dial bob: %w", err)
	}
	defer connB.Close(websocket.StatusNormalClosure, "bye")

	if _, err := await(ctx, connB, "registered"); err != nil {
		return err
	}

	payload, err := json.Marshal(proto.ChatMessageData{To: bob.User.ID, Content: *text})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if err := wsjson.Write(ctx, connA, proto.Inbound{Type: proto.InboundTypeChatMessage, Data: payload}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	data, err := await(ctx, connB, "chat_message")
	if err != nil {
		return err
	}
	fmt.Printf("bob received: %s\n", data)
	return nil
}

func signup(ctx context.Context, base, name string) (*account, error) {
	var acc account
	body := map[string]string{"username": name, "password": "smoke-password"}
	if err := call(ctx, http.MethodPost, base+"/api/register", "", body, &acc); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return &acc, nil
}

func call(ctx context.Context, method, url, token string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// await reads frames until the named event arrives and returns its payload.
func await(ctx context.Context, conn *websocket.Conn, event string) (json.RawMessage, error) {
	for {
		var out struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", event, err)
		}
		if out.Type == proto.OutboundTypeError && out.Error != nil {
			return nil, fmt.Errorf("server error %s: %s", out.Error.Code, out.Error.Msg)
		}
		if out.Event == event {
			return out.Data, nil
		}
	}
}
