package cache

import (
	"errors"
	"testing"
	"time"
)

func TestPageCacheBasic(t *testing.T) {
	c := NewPageCache(time.Minute)
	defer c.Stop()

	if _, found := c.Get("pl:/"); found {
		t.Error("expected cache miss for non-existent key")
	}

	entry := c.Set("pl:/", []byte("<html>witaj</html>"))
	if entry.ETag == "" {
		t.Error("expected an etag")
	}

	got, found := c.Get("pl:/")
	if !found {
		t.Fatal("expected cache hit")
	}
	if string(got.Body) != "<html>witaj</html>" {
		t.Errorf("unexpected body: %s", got.Body)
	}
	if got.ETag != entry.ETag {
		t.Errorf("etag changed: %s != %s", got.ETag, entry.ETag)
	}
}

func TestPageCacheETagDependsOnBody(t *testing.T) {
	c := NewPageCache(time.Minute)
	defer c.Stop()

	a := c.Set("a", []byte("one"))
	b := c.Set("b", []byte("two"))
	same := c.Set("c", []byte("one"))

	if a.ETag == b.ETag {
		t.Error("different bodies should have different etags")
	}
	if a.ETag != same.ETag {
		t.Error("equal bodies should have equal etags")
	}
}

func TestPageCacheTTL(t *testing.T) {
	c := NewPageCache(50 * time.Millisecond)
	defer c.Stop()

	c.Set("short", []byte("x"))
	if _, found := c.Get("short"); !found {
		t.Error("expected cache hit immediately after set")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := c.Get("short"); found {
		t.Error("expected cache miss after TTL expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, len=%d", c.Len())
	}
}

func TestPageCacheInvalidate(t *testing.T) {
	c := NewPageCache(time.Minute)
	defer c.Stop()

	c.Set("pl:/", []byte("pl"))
	c.Set("en:/", []byte("en"))
	c.Invalidate("pl:/")

	if _, found := c.Get("pl:/"); found {
		t.Error("expected cache miss after invalidate")
	}
	if _, found := c.Get("en:/"); !found {
		t.Error("other keys should survive")
	}

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestPageCacheGetOrRender(t *testing.T) {
	c := NewPageCache(time.Minute)
	defer c.Stop()

	calls := 0
	render := func() ([]byte, error) {
		calls++
		return []byte("page"), nil
	}

	for range 3 {
		entry, err := c.GetOrRender("fi:/", render)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(entry.Body) != "page" {
			t.Errorf("unexpected body %q", entry.Body)
		}
	}
	if calls != 1 {
		t.Errorf("render called %d times, want 1", calls)
	}

	_, err := c.GetOrRender("broken", func() ([]byte, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Error("expected render error")
	}
	if _, found := c.Get("broken"); found {
		t.Error("failed renders must not be cached")
	}
}

func TestPageCacheCleanup(t *testing.T) {
	c := NewPageCache(10 * time.Millisecond)
	defer c.Stop()

	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))
	time.Sleep(20 * time.Millisecond)
	c.cleanup()

	if c.Len() != 0 {
		t.Errorf("expected cleanup to remove expired entries, got %d", c.Len())
	}
}

func TestPageCacheStopIdempotent(t *testing.T) {
	c := NewPageCache(time.Minute)
	c.Stop()
	c.Stop()
}
