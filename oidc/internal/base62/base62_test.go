package base62

import (
	"strings"
	"testing"
)

func TestRandom(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got, err := Random(43)
		if err != nil {
			t.Fatalf("Random() error = %v", err)
		}
		if len(got) != 43 {
			t.Fatalf("Random() len = %d, want 43", len(got))
		}
		for _, r := range got {
			if !strings.ContainsRune(charset, r) {
				t.Fatalf("Random() produced %q outside of charset", r)
			}
		}
		if seen[got] {
			t.Fatalf("Random() produced a duplicate value %q", got)
		}
		seen[got] = true
	}

	if _, err := Random(0); err == nil {
		t.Fatal("Random(0) expected an error")
	}
}
