package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
)

type fakeTransport struct{}

func (fakeTransport) Send([]byte) error { return nil }

type fakePending int

func (f fakePending) Len() int { return int(f) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func populated(t *testing.T, roles ...protocol.Role) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, role := range roles {
		id := r.Add(fakeTransport{}, "10.0.0.1:4000")
		if role != protocol.RoleUnregistered {
			if _, err := r.Promote(id, role, &protocol.Project{Path: "/p"}); err != nil {
				t.Fatalf("Promote: %v", err)
			}
		}
	}
	return r
}

func TestReporter_Snapshot(t *testing.T) {
	conns := populated(t, protocol.RoleApp, protocol.RoleAgent, protocol.RoleAgent, protocol.RoleObserver, protocol.RoleUnregistered)
	rep := NewReporter(conns, fakePending(3), nil, nil)

	s := rep.Snapshot()
	if s.App != 1 || s.Agent != 2 || s.Observer != 1 || s.Unregistered != 1 {
		t.Errorf("Snapshot() = %+v", s)
	}
	if s.Total != 5 {
		t.Errorf("Total = %d, want 5", s.Total)
	}
	if s.App+s.Agent+s.Observer+s.Unregistered != s.Total {
		t.Errorf("role counts do not sum to Total: %+v", s)
	}
	if s.Pending != 3 {
		t.Errorf("Pending = %d, want 3", s.Pending)
	}
	if s.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, want >= 0", s.UptimeSeconds)
	}
}

func TestReporter_Check(t *testing.T) {
	tests := []struct {
		name  string
		roles []protocol.Role
		db    Pinger
		want  string
	}{
		{"app connected", []protocol.Role{protocol.RoleApp}, nil, StatusHealthy},
		{"no app", []protocol.Role{protocol.RoleAgent}, nil, StatusDegraded},
		{"database up", []protocol.Role{protocol.RoleApp}, fakePinger{}, StatusHealthy},
		{"database down", []protocol.Role{protocol.RoleApp}, fakePinger{err: errors.New("refused")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := NewReporter(populated(t, tt.roles...), fakePending(0), tt.db, nil)
			resp := rep.Check(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Status = %q, want %q", resp.Status, tt.want)
			}
			if tt.db != nil && resp.Components["database"] == "" {
				t.Error("database component missing")
			}
		})
	}
}

func TestReporter_HealthHandler(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rep := NewReporter(populated(t, protocol.RoleApp, protocol.RoleObserver), fakePending(0), nil, nil)
	rep.now = func() time.Time { return fixed }

	rec := httptest.NewRecorder()
	rep.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if !resp.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", resp.Timestamp, fixed)
	}
	if resp.Connections.Total != 2 || resp.Connections.App != 1 || resp.Connections.Observer != 1 {
		t.Errorf("Connections = %+v", resp.Connections)
	}
	if resp.Version.Version == "" {
		t.Error("Version missing")
	}
}

func TestReporter_HealthHandler_Unhealthy(t *testing.T) {
	rep := NewReporter(populated(t, protocol.RoleApp), fakePending(0), fakePinger{err: errors.New("down")}, nil)

	rec := httptest.NewRecorder()
	rep.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestReporter_ConnectionsHandler(t *testing.T) {
	rep := NewReporter(populated(t, protocol.RoleApp, protocol.RoleAgent, protocol.RoleUnregistered), fakePending(0), nil, nil)

	rec := httptest.NewRecorder()
	rep.ConnectionsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))

	var resp ConnectionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Connections) != 3 {
		t.Fatalf("Count = %d, len = %d, want 3", resp.Count, len(resp.Connections))
	}

	wantRoles := []string{"app", "agent", "unregistered"}
	for i, c := range resp.Connections {
		if c.Role != wantRoles[i] {
			t.Errorf("Connections[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
		if c.ID == "" || c.RemoteAddr != "10.0.0.1:4000" {
			t.Errorf("Connections[%d] = %+v", i, c)
		}
	}
	if resp.Connections[0].Project == nil || resp.Connections[0].Project.Path != "/p" {
		t.Errorf("Project = %+v, want /p", resp.Connections[0].Project)
	}
}

func TestReporter_ConnectionsHandler_Empty(t *testing.T) {
	rep := NewReporter(registry.New(), nil, nil, nil)

	rec := httptest.NewRecorder()
	rep.ConnectionsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))

	var raw map[string]any
	json.NewDecoder(rec.Body).Decode(&raw)
	if conns, ok := raw["connections"].([]any); !ok || len(conns) != 0 {
		t.Errorf("connections = %v, want empty array", raw["connections"])
	}
}
