package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryManagerIssueAndTouch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager(time.Hour)

	id, err := m.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}

	alive, err := m.Touch(ctx, id)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !alive {
		t.Fatal("fresh session must be alive")
	}

	alive, err = m.Touch(ctx, "unknown")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if alive {
		t.Fatal("unknown session must not be alive")
	}
}

func TestMemoryManagerExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager(time.Hour)

	id, err := m.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Jump past the TTL.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	alive, err := m.Touch(ctx, id)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if alive {
		t.Fatal("expired session must not be alive")
	}

	// Expired ids are dropped, so a second touch stays dead.
	alive, _ = m.Touch(ctx, id)
	if alive {
		t.Fatal("expired session must stay dead")
	}
}

func TestMemoryManagerTouchExtends(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager(time.Hour)

	id, err := m.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Touch at 50 minutes pushes the expiry to 1h50m.
	m.now = func() time.Time { return time.Now().Add(50 * time.Minute) }
	if alive, _ := m.Touch(ctx, id); !alive {
		t.Fatal("session touched inside the TTL must be alive")
	}

	m.now = func() time.Time { return time.Now().Add(100 * time.Minute) }
	if alive, _ := m.Touch(ctx, id); !alive {
		t.Fatal("touch must have extended the TTL")
	}
}
