package verify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCodeStoreIssueAndConsume(t *testing.T) {
	store := NewMemoryCodeStore()
	ctx := context.Background()

	code, err := store.Issue(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	ok, err := store.Consume(ctx, "+15550100", code)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !ok {
		t.Fatal("expected code to be accepted")
	}

	// Single use.
	ok, err = store.Consume(ctx, "+15550100", code)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if ok {
		t.Fatal("expected consumed code to be rejected")
	}
}

func TestMemoryCodeStoreWrongCode(t *testing.T) {
	store := NewMemoryCodeStore()
	ctx := context.Background()

	code, err := store.Issue(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if ok, _ := store.Consume(ctx, "+15550100", "000000"); ok && code != "000000" {
		t.Fatal("expected wrong code to be rejected")
	}
	// The outstanding code survives a wrong attempt.
	if ok, _ := store.Consume(ctx, "+15550100", code); !ok {
		t.Fatal("expected correct code to still be valid")
	}
}

func TestMemoryCodeStoreReissueReplaces(t *testing.T) {
	store := NewMemoryCodeStore()
	ctx := context.Background()

	first, _ := store.Issue(ctx, "+15550100")
	second, _ := store.Issue(ctx, "+15550100")

	if first != second {
		if ok, _ := store.Consume(ctx, "+15550100", first); ok {
			t.Fatal("expected replaced code to be rejected")
		}
	}
	if ok, _ := store.Consume(ctx, "+15550100", second); !ok {
		t.Fatal("expected latest code to be accepted")
	}
}

func TestMemoryCodeStoreExpiry(t *testing.T) {
	store := NewMemoryCodeStore()
	ctx := context.Background()

	code, _ := store.Issue(ctx, "+15550100")
	store.mu.Lock()
	entry := store.codes["+15550100"]
	entry.expiresAt = time.Now().Add(-time.Second)
	store.codes["+15550100"] = entry
	store.mu.Unlock()

	if ok, _ := store.Consume(ctx, "+15550100", code); ok {
		t.Fatal("expected expired code to be rejected")
	}
}

func TestGenerateCodeDigitsOnly(t *testing.T) {
	for i := 0; i < 32; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("unexpected character in code %q", code)
			}
		}
	}
}
