package caching

import (
	"os"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if _, ok := c.Get("function=OVERVIEW&symbol=IBM"); ok {
		t.Fatal("Get() hit on empty cache")
	}
	if err := c.Set("function=OVERVIEW&symbol=IBM", []byte(`{"Symbol":"IBM"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	data, ok := c.Get("function=OVERVIEW&symbol=IBM")
	if !ok || string(data) != `{"Symbol":"IBM"}` {
		t.Errorf("Get() = %q, %v", data, ok)
	}
	if _, ok := c.Get("function=OVERVIEW&symbol=AAPL"); ok {
		t.Error("Get() hit for a different key")
	}
}

func TestCache_Expiry(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, time.Minute)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Error("Get() returned an expired entry")
	}

	n, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("%d files left after Prune()", len(entries))
	}
}

func TestCache_NoTTL(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	_ = c.Set("k", []byte("v"))
	c.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	if _, ok := c.Get("k"); !ok {
		t.Error("entry without TTL expired")
	}

	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get() hit after Delete()")
	}
	if err := c.Delete("k"); err != nil {
		t.Errorf("Delete() of missing entry error = %v", err)
	}
}
