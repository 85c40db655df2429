package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(512) 555-0100":    "+15125550100",
		"512.555.0100":      "+15125550100",
		"1-512-555-0100":    "+15125550100",
		"+1 512 555 0100":   "+15125550100",
		"0044 20 7946 0000": "+442079460000",
		"+44 20 7946 0000":  "+442079460000",
		"":                  "",
		"   ":               "",
		"n/a":               "",
		"555-01":            "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected ulid length %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewSortsInCreationOrder(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		id := New()
		if id <= prev {
			t.Fatalf("ids out of order: %s then %s", prev, id)
		}
		prev = id
	}
}
