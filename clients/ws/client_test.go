package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/fastcoder/internal/gateway/ws"
)

// echoServer answers every request with an ok response carrying the method
// name, so the test can check what the client sent.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			req, err := wsprotocol.UnmarshalFrame(data)
			if err != nil {
				return
			}
			res, _ := wsprotocol.NewResponseFrame(req.ID, true, map[string]any{
				"method": req.Method,
				"params": req.Params,
			}, "")
			out, _ := wsprotocol.MarshalFrame(res)
			if err := conn.Write(r.Context(), websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_Requests(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, echoServer(t))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	id, err := c.Send("explain defer")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "req-1" {
		t.Fatalf("expected id %q, got %q", "req-1", id)
	}

	f, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.ID != id || f.OK == nil || !*f.OK {
		t.Fatalf("unexpected response %+v", f)
	}
	var echoed struct {
		Method string                `json:"method"`
		Params wsprotocol.SendParams `json:"params"`
	}
	if err := json.Unmarshal(f.Payload, &echoed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if echoed.Method != string(wsprotocol.MethodSend) || echoed.Params.Text != "explain defer" {
		t.Fatalf("unexpected echo %+v", echoed)
	}

	for _, tc := range []struct {
		call   func() (string, error)
		method wsprotocol.Method
	}{
		{c.Reset, wsprotocol.MethodReset},
		{c.Cancel, wsprotocol.MethodCancel},
	} {
		if _, err := tc.call(); err != nil {
			t.Fatalf("%s: %v", tc.method, err)
		}
		f, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		var got struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(f.Payload, &got)
		if got.Method != string(tc.method) {
			t.Fatalf("expected method %q, got %q", tc.method, got.Method)
		}
	}
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Dial(ctx, "ws://127.0.0.1:1/api/ws"); err == nil {
		t.Fatal("expected dial error")
	}
}
