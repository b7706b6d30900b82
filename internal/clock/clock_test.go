package clock

import (
	"testing"
	"time"
)

func TestMock_MicrosFollowsAdd(t *testing.T) {
	m := NewMock()
	if got := m.Micros(); got != 0 {
		t.Fatalf("micros=%d want 0", got)
	}
	m.Add(1500 * time.Microsecond)
	if got := m.Micros(); got != 1500 {
		t.Fatalf("micros=%d want 1500", got)
	}
	m.Set(2 * time.Second)
	if got := m.Micros(); got != 2_000_000 {
		t.Fatalf("micros=%d want 2000000", got)
	}
}

func TestSource_Monotonic(t *testing.T) {
	s := New()
	a := s.Micros()
	time.Sleep(2 * time.Millisecond)
	b := s.Micros()
	if b <= a {
		t.Fatalf("expected increasing micros a=%d b=%d", a, b)
	}
}
