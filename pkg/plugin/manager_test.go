package plugin

import (
	"context"
	"strings"
	"testing"
)

// stubPlugin records lifecycle calls made by the manager.
type stubPlugin struct {
	info       Info
	configured map[string]any
	inits      int
	starts     int
	stops      int
}

func (p *stubPlugin) Info() Info { return p.info }

func (p *stubPlugin) Configure(cfg map[string]any) error {
	p.configured = cfg
	return nil
}

func (p *stubPlugin) Init(*ExecutionContext) error  { p.inits++; return nil }
func (p *stubPlugin) Start(*ExecutionContext) error { p.starts++; return nil }
func (p *stubPlugin) Stop(*ExecutionContext) error  { p.stops++; return nil }

func TestManagerLifecycle(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &stubPlugin{info: Info{Name: "stub", Category: TypeProcessor}}
	if err := mgr.Register("stub", p, map[string]any{"key": "value"}, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if state, _ := mgr.State("stub"); state != StateRegistered {
		t.Fatalf("unexpected state after register: %s", state)
	}

	ctx := context.Background()
	if err := mgr.Start(ctx, "stub"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice must not run Init or Start again.
	if err := mgr.Start(ctx, "stub"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.inits != 1 || p.starts != 1 {
		t.Fatalf("unexpected lifecycle counts: inits=%d starts=%d", p.inits, p.starts)
	}
	if state, _ := mgr.State("stub"); state != StateStarted {
		t.Fatalf("unexpected state after start: %s", state)
	}

	if err := mgr.Stop(ctx, "stub"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := mgr.Stop(ctx, "stub"); err != nil {
		t.Fatalf("stop again: %v", err)
	}
	if p.stops != 1 {
		t.Fatalf("expected a single stop call, got %d", p.stops)
	}
	if state, _ := mgr.State("stub"); state != StateStopped {
		t.Fatalf("unexpected state after stop: %s", state)
	}
}

func TestManagerRejectsDuplicateID(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Register("dup", &stubPlugin{}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := mgr.Register("dup", &stubPlugin{}, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestManagerEnforcesIsolationPolicy(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &stubPlugin{info: Info{Capabilities: []Capability{CapabilityNetwork}}}

	// Capabilities without a bounding policy are rejected outright.
	if err := mgr.Register("netless", p, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected unbounded capabilities to be rejected")
	}
	// An explicit denial wins over the allow list.
	denied := IsolationPolicy{
		AllowedCapabilities: []Capability{CapabilityNetwork},
		DeniedCapabilities:  []Capability{CapabilityNetwork},
	}
	err = mgr.Register("denied", p, nil, denied)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("unexpected error: %v", err)
	}
	// An allow list covering the capability passes.
	allowed := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork}}
	if err := mgr.Register("allowed", p, nil, allowed); err != nil {
		t.Fatalf("register with allow list: %v", err)
	}
}

func TestManagerByCategory(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	source := &stubPlugin{info: Info{Category: TypeGoalSource}}
	processor := &stubPlugin{info: Info{Category: TypeProcessor}}
	if err := mgr.Register("source", source, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if err := mgr.Register("processor", processor, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register processor: %v", err)
	}

	infos := mgr.ByCategory(TypeProcessor)
	if len(infos) != 1 || infos[0].ID != "processor" {
		t.Fatalf("unexpected processor listing: %+v", infos)
	}
}
