package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "status:proxies", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); err != tt.wantErr {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestFetch_LoadsOnceWithinTTL(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte("snapshot"), nil
	}

	for i := 0; i < 3; i++ {
		v, err := Fetch(ctx, c, "status:health", time.Minute, load)
		if err != nil || string(v) != "snapshot" {
			t.Fatalf("Fetch() = %q, %v", v, err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}
}

func TestFetch_LoaderErrorIsNotCached(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()
	boom := errors.New("boom")

	if _, err := Fetch(ctx, c, "k", time.Minute, func(context.Context) ([]byte, error) { return nil, boom }); err != boom {
		t.Fatalf("Fetch() error = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestFetch_NilCacheAlwaysLoads(t *testing.T) {
	loads := 0
	for i := 0; i < 2; i++ {
		_, _ = Fetch(context.Background(), nil, "k", time.Minute, func(context.Context) ([]byte, error) {
			loads++
			return nil, nil
		})
	}
	if loads != 2 {
		t.Errorf("loads = %d, want 2", loads)
	}
}

func TestFetch_InvalidKey(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	_, err := Fetch(context.Background(), c, "", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("x"), nil
	})
	if err != ErrInvalidKey {
		t.Errorf("Fetch() error = %v, want ErrInvalidKey", err)
	}
}
