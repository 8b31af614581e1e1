package ttscache

import (
	"fmt"
	"testing"
	"time"
)

func frames(b byte) [][]byte {
	return [][]byte{{b, b, b}}
}

func TestKeyNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Could you give me 30 seconds?", "could you give me 30 seconds"},
		{"  I totally understand.  ", "i totally understand"},
		{"Hello,   world!", "hello world"},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	t.Parallel()

	c := New()
	c.Put("I totally understand.", frames(1))

	// Lookup goes through the same normalization, so punctuation and case
	// differences still hit.
	got, ok := c.Get("i totally understand")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got[0][0] != 1 {
		t.Errorf("wrong frames returned")
	}

	if _, ok := c.Get("something else"); ok {
		t.Error("unexpected hit for unknown key")
	}
}

func TestIneligibleTextNotCached(t *testing.T) {
	t.Parallel()

	c := New()
	long := ""
	for len(long) < MaxTextLen {
		long += "word "
	}
	c.Put(long, frames(1))
	c.Put("", frames(2))
	c.Put("   ", frames(3))
	c.Put("ok", nil)

	if c.Len() != 0 {
		t.Errorf("cache length = %d, want 0", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	c := New(WithClock(clock), WithTTL(time.Hour))

	c.Put("fair enough", frames(1))
	if _, ok := c.Get("fair enough"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(time.Hour + time.Second)
	if _, ok := c.Get("fair enough"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, length = %d", c.Len())
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	c := New(WithClock(clock), WithCapacity(3))

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("phrase %d", i), frames(byte(i)))
		now = now.Add(time.Second)
	}
	// Inserting a fourth entry evicts "phrase 0", the oldest.
	c.Put("phrase 3", frames(3))

	if c.Len() != 3 {
		t.Fatalf("cache length = %d, want 3", c.Len())
	}
	if _, ok := c.Get("phrase 0"); ok {
		t.Error("oldest entry was not evicted")
	}
	for i := 1; i <= 3; i++ {
		if _, ok := c.Get(fmt.Sprintf("phrase %d", i)); !ok {
			t.Errorf("entry %d missing", i)
		}
	}
}

func TestWarmPhrasesAreCacheable(t *testing.T) {
	t.Parallel()

	for _, p := range WarmPhrases {
		if !Cacheable(p) {
			t.Errorf("warm phrase %q is not cacheable", p)
		}
		if Key(p) == "" {
			t.Errorf("warm phrase %q normalizes to empty key", p)
		}
	}
}
