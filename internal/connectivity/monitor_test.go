package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePinger is a Pinger with a switchable result
type fakePinger struct {
	mu   sync.Mutex
	fail bool
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("unreachable")
	}
	return nil
}

func (p *fakePinger) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

// TestStatic_Transitions tests manual state flips and subscriber dispatch
func TestStatic_Transitions(t *testing.T) {
	s := NewStatic(false)
	if s.IsOnline() {
		t.Error("new Static(false) reports online")
	}

	var got []bool
	unsubscribe := s.Subscribe(func(online bool) { got = append(got, online) })

	s.SetOnline(true)
	s.SetOnline(true) // no transition, no callback
	s.SetOnline(false)

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("callbacks = %v, want [true false]", got)
	}

	unsubscribe()
	unsubscribe() // calling twice is safe
	s.SetOnline(true)
	if len(got) != 2 {
		t.Error("callback fired after unsubscribe")
	}
}

// TestProbeMonitor_Reachability tests the active probe path
func TestProbeMonitor_Reachability(t *testing.T) {
	pinger := &fakePinger{}
	m := NewProbeMonitor(pinger, time.Hour, nil)

	if m.IsOnline() {
		t.Error("monitor should start pessimistic")
	}
	if !m.IsRemoteReachable(context.Background()) {
		t.Error("probe failed against a healthy pinger")
	}
	if !m.IsOnline() {
		t.Error("successful probe did not update state")
	}

	pinger.setFail(true)
	if m.IsRemoteReachable(context.Background()) {
		t.Error("probe succeeded against a failing pinger")
	}
	if m.IsOnline() {
		t.Error("failed probe did not update state")
	}
}

// TestProbeMonitor_NotifiesOnTransition tests subscriber dispatch from probes
func TestProbeMonitor_NotifiesOnTransition(t *testing.T) {
	pinger := &fakePinger{}
	m := NewProbeMonitor(pinger, time.Hour, nil)

	transitions := make(chan bool, 4)
	m.Subscribe(func(online bool) { transitions <- online })

	m.IsRemoteReachable(context.Background())
	select {
	case online := <-transitions:
		if !online {
			t.Error("first transition = offline, want online")
		}
	default:
		t.Fatal("no transition notification")
	}

	// Same state again: no notification.
	m.IsRemoteReachable(context.Background())
	select {
	case <-transitions:
		t.Fatal("notification without a transition")
	default:
	}
}

// TestProbeMonitor_StartStop tests the probe loop lifecycle
func TestProbeMonitor_StartStop(t *testing.T) {
	pinger := &fakePinger{}
	m := NewProbeMonitor(pinger, 10*time.Millisecond, nil)

	m.Start()
	deadline := time.Now().Add(2 * time.Second)
	for !m.IsOnline() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsOnline() {
		t.Error("probe loop never observed the healthy backend")
	}
	m.Stop()

	// Stop on a never-started monitor is a no-op.
	NewProbeMonitor(pinger, time.Hour, nil).Stop()
}
