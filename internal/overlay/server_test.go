package overlay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"ltlive/internal/domain"

	"github.com/gorilla/websocket"
)

type runningServer struct {
	srv  *Server
	q    *Queue
	addr string
	stop func()
}

func startServer(t *testing.T) *runningServer {
	t.Helper()
	q := NewQueue(16, testLogger())
	srv := NewServer(ServerConfig{Path: "/ws", MetricsPath: "/metrics", Queue: q, Logger: testLogger()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	rs := &runningServer{srv: srv, q: q, addr: ln.Addr().String()}
	rs.stop = func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}
	t.Cleanup(rs.stop)
	return rs
}

func (rs *runningServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+rs.addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool { return rs.srv.ClientCount() > 0 })
	return conn
}

func httpGet(t *testing.T, url string) *http.Response {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readType(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type string `json:"type"`
		Args struct {
			New json.RawMessage `json:"new"`
		} `json:"args"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env.Type, env.Args.New
}

func TestServer_BroadcastsInOrder(t *testing.T) {
	rs := startServer(t)
	a := rs.dial(t)
	b := rs.dial(t)
	waitFor(t, func() bool { return rs.srv.ClientCount() == 2 })

	rs.q.Publish(TimelineFlush{})
	rs.q.Publish(NotificationUpdate{Text: "hello"})

	for _, conn := range []*websocket.Conn{a, b} {
		if typ, _ := readType(t, conn); typ != TypeTimelineFlush {
			t.Errorf("first event = %s", typ)
		}
		typ, args := readType(t, conn)
		if typ != TypeNotificationUpdate || string(args) != `"hello"` {
			t.Errorf("second event = %s %s", typ, args)
		}
	}
}

func TestServer_ReplaysLastStateToNewClient(t *testing.T) {
	rs := startServer(t)
	first := rs.dial(t)

	rs.q.Publish(ScreenUpdate{Page: PageLTScreen})
	rs.q.Publish(NotificationUpdate{Text: "old"})
	rs.q.Publish(NotificationUpdate{Text: "new"})
	rs.q.Publish(PresentationUpdate{Presentation: domain.Presentation{Presenter: domain.DisplayUser{Name: "A"}, Title: "T"}})
	rs.q.Publish(TimelineAdd{User: domain.DisplayUser{Name: "x"}, Service: domain.ServiceTwitter, Content: "c"})

	// Wait until the first client saw everything so the state is recorded.
	for i := 0; i < 5; i++ {
		readType(t, first)
	}

	late := rs.dial(t)
	wantTypes := []string{TypeScreenUpdate, TypeNotificationUpdate, TypePresentationUpdate}
	for _, want := range wantTypes {
		typ, args := readType(t, late)
		if typ != want {
			t.Fatalf("replayed %s, want %s", typ, want)
		}
		if typ == TypeNotificationUpdate && string(args) != `"new"` {
			t.Errorf("replayed notification %s, want latest", args)
		}
	}
}

func TestServer_Health(t *testing.T) {
	rs := startServer(t)
	rs.dial(t)

	resp := httpGet(t, "http://"+rs.addr+"/healthz")

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Clients != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestServer_Metrics(t *testing.T) {
	rs := startServer(t)

	resp := httpGet(t, "http://"+rs.addr+"/metrics")
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "ltlive_overlay_clients") {
		t.Errorf("metrics output missing overlay gauge:\n%s", data)
	}
}

func TestServer_ClientDisconnectIsForgotten(t *testing.T) {
	rs := startServer(t)
	conn := rs.dial(t)
	conn.Close()
	waitFor(t, func() bool { return rs.srv.ClientCount() == 0 })
}
