package auth

import (
	"testing"
	"time"
)

// fixClock pins the package clock and returns a function to move it.
func fixClock(t *testing.T) func(time.Duration) {
	t.Helper()
	base := time.Now()
	current := base
	prev := now
	now = func() time.Time { return current }
	t.Cleanup(func() { now = prev })
	return func(d time.Duration) { current = base.Add(d) }
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash equals plaintext")
	}
	if !CheckPassword("correct horse", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("battery staple", hash) {
		t.Error("wrong password accepted")
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	token, err := store.Create(7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if userID, ok := store.Get(token); !ok || userID != 7 {
		t.Errorf("Get = %d, %v", userID, ok)
	}

	store.Delete(token)
	if _, ok := store.Get(token); ok {
		t.Error("session usable after delete")
	}
}

func TestSessionRenewedWhileActive(t *testing.T) {
	advance := fixClock(t)
	store := NewSessionStore()

	token, err := store.Create(7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	advance(23 * time.Hour)
	if _, ok := store.Get(token); !ok {
		t.Fatal("session expired before its TTL")
	}

	// That hit slid the expiry, so the session outlives the original 24h.
	advance(30 * time.Hour)
	if _, ok := store.Get(token); !ok {
		t.Error("active session was not renewed")
	}
}

func TestSessionRenewalCapped(t *testing.T) {
	advance := fixClock(t)
	store := NewSessionStore()

	token, err := store.Create(7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Keep the session active in sub-TTL steps for almost a week.
	for h := 23; h <= 161; h += 23 {
		advance(time.Duration(h) * time.Hour)
		if _, ok := store.Get(token); !ok {
			t.Fatalf("session expired at hour %d despite activity", h)
		}
	}

	// Renewal stops at the hard cap, so activity after it does not help.
	advance(184 * time.Hour)
	if _, ok := store.Get(token); ok {
		t.Error("session renewed past the maximum lifetime")
	}
}

func TestSessionExpiresWhenIdle(t *testing.T) {
	advance := fixClock(t)
	store := NewSessionStore()

	token, err := store.Create(7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	advance(25 * time.Hour)
	if _, ok := store.Get(token); ok {
		t.Error("idle session usable past its TTL")
	}
}

func TestSessionCleanupCountsExpired(t *testing.T) {
	advance := fixClock(t)
	store := NewSessionStore()

	stale1, _ := store.Create(1)
	stale2, _ := store.Create(1)
	advance(25 * time.Hour)
	fresh, _ := store.Create(2)

	if n := store.Cleanup(); n != 2 {
		t.Errorf("Cleanup() = %d, want 2", n)
	}
	if _, ok := store.Get(fresh); !ok {
		t.Error("fresh session swept")
	}
	for _, token := range []string{stale1, stale2} {
		if _, ok := store.Get(token); ok {
			t.Error("stale session survived cleanup")
		}
	}
}

func TestSessionStoreDeleteByUser(t *testing.T) {
	store := NewSessionStore()

	a1, _ := store.Create(1)
	a2, _ := store.Create(1)
	b, _ := store.Create(2)

	if n := store.DeleteByUserID(1); n != 2 {
		t.Errorf("DeleteByUserID = %d, want 2", n)
	}
	if _, ok := store.Get(a1); ok {
		t.Error("first session for user 1 survived")
	}
	if _, ok := store.Get(a2); ok {
		t.Error("second session for user 1 survived")
	}
	if _, ok := store.Get(b); !ok {
		t.Error("unrelated user's session was removed")
	}
}
