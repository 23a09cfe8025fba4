package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/agent-hub/internal/config"
	"github.com/rickgao/agent-hub/internal/hubclient"
	"github.com/rickgao/agent-hub/internal/protocol"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testHub struct {
	srv  *Server
	http *httptest.Server
}

func newTestHub(t *testing.T, mutate func(c *config.HubConfig)) *testHub {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	srv, err := New(cfg, WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return &testHub{srv: srv, http: ts}
}

func (h *testHub) wsURL() string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + h.srv.cfg.Server.WSPath
}

func (h *testHub) dial(t *testing.T, token string) (*hubclient.Conn, error) {
	t.Helper()
	cfg := hubclient.DefaultConnConfig(h.wsURL())
	cfg.Token = token
	c, err := hubclient.Dial(context.Background(), cfg, discard)
	if err == nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, err
}

func (h *testHub) join(t *testing.T, role protocol.Role) *hubclient.Conn {
	t.Helper()
	c, err := h.dial(t, h.srv.cfg.Auth.Token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Register(ctx, role, &protocol.Project{Path: "/work/" + string(role)}); err != nil {
		t.Fatalf("Register(%s): %v", role, err)
	}
	return c
}

func next(t *testing.T, c *hubclient.Conn) hubclient.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return msg
}

func frame(t *testing.T, msg hubclient.Message) hubclient.Frame {
	t.Helper()
	f, err := msg.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_AgentRequestRoundTrip(t *testing.T) {
	h := newTestHub(t, nil)

	agent := h.join(t, protocol.RoleAgent)
	app := h.join(t, protocol.RoleApp)

	req := `{"type":"fsEvent","requestId":"r1","action":"readFile","message":{"path":"/x"}}`
	if err := agent.Send([]byte(req)); err != nil {
		t.Fatalf("agent Send: %v", err)
	}

	got := next(t, app)
	if string(got.Data) != req {
		t.Errorf("app received %s, want verbatim %s", got.Data, req)
	}

	resp := `{"type":"fsOperationResponse","requestId":"r1","success":true,"data":{"content":"hi"}}`
	if err := app.Send([]byte(resp)); err != nil {
		t.Fatalf("app Send: %v", err)
	}

	got = next(t, agent)
	if string(got.Data) != resp {
		t.Errorf("agent received %s, want %s", got.Data, resp)
	}
	if n := h.srv.pending.Len(); n != 0 {
		t.Errorf("pending = %d after response, want 0", n)
	}
}

func TestHub_NoAppAvailable(t *testing.T) {
	h := newTestHub(t, nil)

	agent1 := h.join(t, protocol.RoleAgent)
	h.join(t, protocol.RoleAgent)

	agent1.Send([]byte(`{"type":"fsEvent","requestId":"r1","action":"readFile","message":{}}`))

	f := frame(t, next(t, agent1))
	if f.Type != "error" || f.Code != string(protocol.CodeNoAppAvailable) || f.RequestID != "r1" {
		t.Errorf("frame = %+v, want NoAppAvailable error for r1", f)
	}
	if n := h.srv.pending.Len(); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestHub_AppTargetsAgent(t *testing.T) {
	h := newTestHub(t, nil)

	agent := h.join(t, protocol.RoleAgent)
	app := h.join(t, protocol.RoleApp)

	req := `{"type":"terminalEvent","requestId":"a1","action":"run","targetConnectionId":"` + agent.ID() + `"}`
	app.Send([]byte(req))

	if got := next(t, agent); string(got.Data) != req {
		t.Errorf("agent received %s, want %s", got.Data, req)
	}

	agent.Send([]byte(`{"type":"error","requestId":"a1","error":"exit 1"}`))
	f := frame(t, next(t, app))
	if f.Type != "error" || f.RequestID != "a1" || f.Error != "exit 1" {
		t.Errorf("app received %+v, want forwarded error", f)
	}
}

func TestHub_RequestTimeout(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) {
		c.Routing.RequestTimeout = 100 * time.Millisecond
		c.Routing.SweepInterval = 10 * time.Millisecond
	})

	agent := h.join(t, protocol.RoleAgent)
	h.join(t, protocol.RoleApp)

	agent.Send([]byte(`{"type":"gitEvent","requestId":"slow","action":"status"}`))

	f := frame(t, next(t, agent))
	if f.Code != string(protocol.CodeTimeout) || f.RequestID != "slow" {
		t.Errorf("frame = %+v, want Timeout for slow", f)
	}
	if n := h.srv.pending.Len(); n != 0 {
		t.Errorf("pending = %d after timeout, want 0", n)
	}
}

func TestHub_AppDisconnectFailsPending(t *testing.T) {
	h := newTestHub(t, nil)

	agent := h.join(t, protocol.RoleAgent)
	app := h.join(t, protocol.RoleApp)

	agent.Send([]byte(`{"type":"fsEvent","requestId":"r9","action":"readFile"}`))
	next(t, app)
	app.Close()

	f := frame(t, next(t, agent))
	if f.Code != string(protocol.CodePeerDisconnected) || f.RequestID != "r9" {
		t.Errorf("frame = %+v, want PeerDisconnected for r9", f)
	}
}

func TestHub_ObserverSeesConnectionEvents(t *testing.T) {
	h := newTestHub(t, nil)

	observer := h.join(t, protocol.RoleObserver)
	agent := h.join(t, protocol.RoleAgent)

	f := frame(t, next(t, observer))
	if f.Type != "notification" || f.EventType != protocol.EventConnections {
		t.Fatalf("observer received %+v, want connections notification", f)
	}
	var ev protocol.ConnectionEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Event != "registered" || ev.ConnectionID != agent.ID() || ev.Role != protocol.RoleAgent {
		t.Errorf("event = %+v", ev)
	}

	agent.Close()
	f = frame(t, next(t, observer))
	json.Unmarshal(f.Data, &ev)
	if ev.Event != "disconnected" || ev.ConnectionID != agent.ID() {
		t.Errorf("event = %+v, want disconnected", ev)
	}
}

func TestHub_NotificationFanOut(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) {
		off := false
		c.Routing.BroadcastConnectionEvents = &off
	})

	obs1 := h.join(t, protocol.RoleObserver)
	obs2 := h.join(t, protocol.RoleObserver)
	app := h.join(t, protocol.RoleApp)

	note := `{"type":"notification","eventType":"terminal","data":{"line":"ok"}}`
	app.Send([]byte(note))

	for i, o := range []*hubclient.Conn{obs1, obs2} {
		if got := next(t, o); string(got.Data) != note {
			t.Errorf("observer %d received %s, want %s", i, got.Data, note)
		}
	}
}

func TestHub_UnregisteredFrameClosesConnection(t *testing.T) {
	h := newTestHub(t, nil)

	c, err := h.dial(t, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Send([]byte(`{"type":"fsEvent","requestId":"r1","action":"readFile"}`))

	f := frame(t, next(t, c))
	if f.Code != string(protocol.CodeProtocolViolation) {
		t.Errorf("frame = %+v, want ProtocolViolation", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = c.Next(ctx)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Next() = %v, want policy violation close", err)
	}
	waitFor(t, "registry to drop connection", func() bool { return h.srv.Registry().Stats().Total == 0 })
}

func TestHub_TokenRequired(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) { c.Auth.Token = "s3cret" })

	if _, err := h.dial(t, ""); err == nil {
		t.Error("dial without token succeeded")
	}
	if _, err := h.dial(t, "wrong"); err == nil {
		t.Error("dial with wrong token succeeded")
	}
	h.join(t, protocol.RoleAgent)

	// Tokens also work as a query parameter.
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL()+"?token=s3cret", nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	conn.Close()

	client := hubclient.NewClient(h.http.URL, "")
	if _, err := client.Connections(context.Background()); err == nil {
		t.Error("/connections without token succeeded")
	}
	if _, err := client.Health(context.Background()); err != nil {
		t.Errorf("/health without token: %v", err)
	}
	if _, err := hubclient.NewClient(h.http.URL, "s3cret").Connections(context.Background()); err != nil {
		t.Errorf("/connections with token: %v", err)
	}
}

func TestHub_OriginAllowList(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	})

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("dial from disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(), http.Header{"Origin": {"http://localhost:3000"}})
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	conn.Close()
}

func TestHub_HealthAndConnections(t *testing.T) {
	h := newTestHub(t, nil)
	client := hubclient.NewClient(h.http.URL, "")

	resp, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q with no app, want degraded", resp.Status)
	}

	app := h.join(t, protocol.RoleApp)
	h.join(t, protocol.RoleAgent)

	resp, err = client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "healthy" || resp.Connections.App != 1 || resp.Connections.Agent != 1 {
		t.Errorf("Health = %+v", resp)
	}

	conns, err := client.Connections(context.Background())
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if conns.Count != 2 || conns.Connections[0].ID != app.ID() || conns.Connections[0].Role != "app" {
		t.Errorf("Connections = %+v", conns)
	}
	if conns.Connections[0].Project == nil || conns.Connections[0].Project.Path != "/work/app" {
		t.Errorf("Project = %+v", conns.Connections[0].Project)
	}
}

func TestHub_Metrics(t *testing.T) {
	h := newTestHub(t, nil)
	h.join(t, protocol.RoleAgent)

	resp, err := http.Get(h.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `agenthub_connections{role="agent"} 1`) {
		t.Errorf("metrics missing agent gauge:\n%s", body)
	}
}

func TestHub_MetricsDisabled(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) {
		off := false
		c.Metrics.Enabled = &off
	})

	resp, err := http.Get(h.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHub_ShutdownClosesSessionsGoingAway(t *testing.T) {
	h := newTestHub(t, nil)
	agent := h.join(t, protocol.RoleAgent)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, err := agent.Next(ctx)
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Next() = %v, want going away close", err)
	}
	if n := h.srv.Registry().Stats().Total; n != 0 {
		t.Errorf("connections after shutdown = %d, want 0", n)
	}

	if _, err := h.dial(t, ""); err == nil {
		t.Error("dial after shutdown succeeded")
	}
}

func TestServer_Serve(t *testing.T) {
	cfg := config.Default()
	srv, err := New(cfg, WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := hubclient.NewClient("http://"+ln.Addr().String(), "")
	waitFor(t, "server to answer /health", func() bool {
		_, err := client.Health(context.Background())
		return err == nil
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNew_DatabaseWithoutPool(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Enabled = true

	if _, err := New(cfg); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("New() error = %v, want ErrNoDatabase", err)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "http://any", true},
		{"wildcard", []string{"*"}, "http://any", true},
		{"no origin header", []string{"http://a"}, "", true},
		{"exact match", []string{"http://a"}, "http://a", true},
		{"case insensitive", []string{"HTTP://A"}, "http://a", true},
		{"trailing slash in config", []string{"http://a/"}, "http://a", true},
		{"mismatch", []string{"http://a"}, "http://b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("originChecker(%v)(%q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
			}
		})
	}
}
