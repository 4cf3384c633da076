package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		gen := NanoID(length)
		id := gen()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	gen := NanoID(100)
	id := gen()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if parts := strings.Split(id, "-"); len(parts) != 5 || len(id) != 36 {
		t.Fatalf("UUIDv7: malformed %q", id)
	}
}

func TestTimestamped(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600)) }
	id := Timestamped(now, Fixed("abc"))()
	if id != "20260304T040607Z_abc" {
		t.Fatalf("got %q", id)
	}
}

func TestForStyle(t *testing.T) {
	now := time.Now
	gen, err := ForStyle("", now)
	if err != nil {
		t.Fatal(err)
	}
	if id := gen(); len(id) != len("20060102T150405Z_")+8 {
		t.Errorf("timestamped id: %q", id)
	}
	if gen, err := ForStyle("uuid", now); err != nil || len(gen()) != 36 {
		t.Errorf("uuid style: %v", err)
	}
	if _, err := ForStyle("snowflake", now); err == nil {
		t.Error("unknown style accepted")
	}
}
