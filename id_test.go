package shelly

import (
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()
	if len(id1) != 36 {
		t.Errorf("len = %d, want 36 (UUIDv7): %s", len(id1), id1)
	}
	if id1 == id2 {
		t.Error("two IDs should be unique")
	}
	if id1 >= id2 {
		t.Error("sequential UUIDv7s should be time-ordered")
	}
}

func TestNowUnix(t *testing.T) {
	got := NowUnix()
	now := time.Now().Unix()
	if got < now-2 || got > now+2 {
		t.Errorf("NowUnix() = %d, want close to %d", got, now)
	}
}
