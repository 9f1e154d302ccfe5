package coll

import (
	"errors"
	"testing"
)

type recordingModule struct {
	stubModule
	log       *[]string
	enableErr error
	closeErr  error
}

func (m *recordingModule) Enable(*Group) error {
	*m.log = append(*m.log, "enable:"+m.name)
	return m.enableErr
}

func (m *recordingModule) Disable(*Group) error {
	*m.log = append(*m.log, "disable:"+m.name)
	return nil
}

func (m *recordingModule) Close() error {
	*m.log = append(*m.log, "close:"+m.name)
	return m.closeErr
}

type fixedComponent struct {
	name   string
	module Module
	prio   int
	err    error
}

func (c *fixedComponent) Name() string { return c.name }

func (c *fixedComponent) Query(*Group) (Module, int, error) {
	return c.module, c.prio, c.err
}

func TestFrameworkOrdersByPriority(t *testing.T) {
	var log []string
	high := &recordingModule{stubModule: stubModule{name: "high"}, log: &log}
	low := &recordingModule{stubModule: stubModule{name: "low"}, log: &log}
	closeErr := errors.New("close failed")
	high.closeErr = closeErr

	fw := &Framework{Components: []Component{
		&fixedComponent{name: "high", module: high, prio: 10},
		&fixedComponent{name: "declines"},
		&fixedComponent{name: "low", module: low, prio: 1},
	}}
	g, err := NewGroup(GroupConfig{ID: 3, Size: 1})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	att, err := fw.Attach(g)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if mods := att.Modules(); len(mods) != 2 || mods[0].Component != "low" {
		t.Fatalf("unexpected selection %+v", mods)
	}
	if err := att.Detach(); !errors.Is(err, closeErr) {
		t.Fatalf("Detach error = %v", err)
	}
	want := []string{"enable:low", "enable:high", "disable:high", "close:high", "disable:low", "close:low"}
	if len(log) != len(want) {
		t.Fatalf("log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %s, want %s", i, log[i], want[i])
		}
	}
}

func TestFrameworkQueryError(t *testing.T) {
	queryErr := errors.New("no team")
	fw := &Framework{Components: []Component{&fixedComponent{name: "bad", err: queryErr}}}
	g, _ := NewGroup(GroupConfig{Size: 1})
	if _, err := fw.Attach(g); !errors.Is(err, queryErr) {
		t.Fatalf("Attach error = %v", err)
	}
}

func TestFrameworkEnableErrorClosesEveryModule(t *testing.T) {
	var log []string
	low := &recordingModule{stubModule: stubModule{name: "low"}, log: &log}
	mid := &recordingModule{stubModule: stubModule{name: "mid"}, log: &log, enableErr: errors.New("enable failed")}
	high := &recordingModule{stubModule: stubModule{name: "high"}, log: &log}

	fw := &Framework{Components: []Component{
		&fixedComponent{name: "high", module: high, prio: 10},
		&fixedComponent{name: "mid", module: mid, prio: 5},
		&fixedComponent{name: "low", module: low, prio: 1},
	}}
	g, _ := NewGroup(GroupConfig{Size: 1})
	if _, err := fw.Attach(g); !errors.Is(err, mid.enableErr) {
		t.Fatalf("Attach error = %v", err)
	}
	want := []string{"enable:low", "enable:mid", "disable:low", "close:low", "close:mid", "close:high"}
	if len(log) != len(want) {
		t.Fatalf("log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %s, want %s", i, log[i], want[i])
		}
	}
}

func TestFrameworkQueryErrorClosesQueriedModules(t *testing.T) {
	var log []string
	first := &recordingModule{stubModule: stubModule{name: "first"}, log: &log}
	queryErr := errors.New("no team")
	fw := &Framework{Components: []Component{
		&fixedComponent{name: "first", module: first, prio: 1},
		&fixedComponent{name: "bad", err: queryErr},
	}}
	g, _ := NewGroup(GroupConfig{Size: 1})
	if _, err := fw.Attach(g); !errors.Is(err, queryErr) {
		t.Fatalf("Attach error = %v", err)
	}
	if len(log) != 1 || log[0] != "close:first" {
		t.Fatalf("log = %v", log)
	}
}

func TestWorldGroupsShareIdentity(t *testing.T) {
	var diags DiagnosticRecorder
	w := NewWorld(WorldConfig{Host: "node0", Diagnostics: &diags})
	groups, err := w.NewGroup("world", 3)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	for rank, g := range groups {
		if g.Rank() != rank || g.ID() != groups[0].ID() || g.World() != w {
			t.Fatalf("unexpected group %s", g)
		}
		if g.Host() != "node0" {
			t.Fatalf("host = %s", g.Host())
		}
	}
	pair, err := w.NewPairGroup("pair")
	if err != nil {
		t.Fatalf("NewPairGroup: %v", err)
	}
	if pair[0].Shape() != ShapePair || pair[0].ID() == groups[0].ID() {
		t.Fatalf("pair group not distinct")
	}
	groups[0].Diagnostics().Emit(Diagnostic{Topic: TopicMissingCollective, Operation: "scan"})
	if len(diags.Entries()) != 1 {
		t.Fatalf("diagnostic not recorded")
	}
}
