package broadcast

import (
	"sync"
	"testing"
)

// recorder collects payloads delivered to one subscriber.
type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) listener() Listener {
	return func(p []byte) {
		r.mu.Lock()
		r.payloads = append(r.payloads, string(p))
		r.mu.Unlock()
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func subscribeThree(b *Bus, group string) (a, bb, c *recorder) {
	a, bb, c = &recorder{}, &recorder{}, &recorder{}
	b.Subscribe(group, "A", a.listener())
	b.Subscribe(group, "B", bb.listener())
	b.Subscribe(group, "C", c.listener())
	return a, bb, c
}

func TestBus_ModeAll(t *testing.T) {
	b := New()
	a, bb, c := subscribeThree(b, "shell:1")

	b.Publish("shell:1", []byte("x"), ModeAll, "A")

	for name, r := range map[string]*recorder{"A": a, "B": bb, "C": c} {
		if len(r.got()) != 1 {
			t.Errorf("%s received %d payloads, want 1", name, len(r.got()))
		}
	}
}

func TestBus_ModeExcludeSender(t *testing.T) {
	b := New()
	a, bb, c := subscribeThree(b, "shell:1")

	b.Publish("shell:1", []byte("x"), ModeExcludeSender, "A")

	if len(a.got()) != 0 {
		t.Errorf("sender A received %d payloads, want 0", len(a.got()))
	}
	if len(bb.got()) != 1 || len(c.got()) != 1 {
		t.Errorf("B got %d, C got %d, want 1 each", len(bb.got()), len(c.got()))
	}
}

func TestBus_ModeSenderOnly(t *testing.T) {
	b := New()
	a, bb, c := subscribeThree(b, "shell:1")

	b.Publish("shell:1", []byte("x"), ModeSenderOnly, "A")

	if len(a.got()) != 1 {
		t.Errorf("sender A received %d payloads, want 1", len(a.got()))
	}
	if len(bb.got()) != 0 || len(c.got()) != 0 {
		t.Errorf("B got %d, C got %d, want 0 each", len(bb.got()), len(c.got()))
	}
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New()
	// Must not panic or error.
	b.Publish("shell:99", []byte("x"), ModeAll, "A")
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Subscribe("shell:1", "A", r.listener())

	b.Unsubscribe("shell:1", "A")
	b.Unsubscribe("shell:1", "A")
	b.Unsubscribe("shell:2", "A")

	b.Publish("shell:1", []byte("x"), ModeAll, "")
	if len(r.got()) != 0 {
		t.Errorf("unsubscribed connection received %d payloads", len(r.got()))
	}
}

func TestBus_NoReplayForLateSubscriber(t *testing.T) {
	b := New()
	early := &recorder{}
	b.Subscribe("shell:1", "A", early.listener())

	b.Publish("shell:1", []byte("before"), ModeAll, "")

	late := &recorder{}
	b.Subscribe("shell:1", "B", late.listener())

	if len(late.got()) != 0 {
		t.Errorf("late subscriber received %d payloads, want 0", len(late.got()))
	}
	if len(early.got()) != 1 {
		t.Errorf("early subscriber received %d payloads, want 1", len(early.got()))
	}
}

func TestBus_GroupsAreIsolated(t *testing.T) {
	b := New()
	r1, r2 := &recorder{}, &recorder{}
	b.Subscribe("shell:1", "A", r1.listener())
	b.Subscribe("shell:2", "A", r2.listener())

	b.Publish("shell:1", []byte("x"), ModeAll, "")

	if len(r1.got()) != 1 || len(r2.got()) != 0 {
		t.Errorf("group 1 got %d, group 2 got %d, want 1 and 0", len(r1.got()), len(r2.got()))
	}
}
