package distro

import (
	"fmt"
	"testing"
)

func sampleKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("ns@@svc-%d@@10.0.%d.%d:9100", i%7, i/250, i%250)
	}
	return keys
}

func TestRingDeterministic(t *testing.T) {
	a := BuildRing(1, []string{"n1:1", "n2:1", "n3:1"})
	b := BuildRing(9, []string{"n3:1", "n1:1", "n2:1"}) // different order, version

	for _, key := range sampleKeys(1000) {
		if a.Owner(key) != b.Owner(key) {
			t.Fatalf("owner differs for %q: %s vs %s", key, a.Owner(key), b.Owner(key))
		}
	}
}

func TestRingOwnerStability(t *testing.T) {
	full := BuildRing(1, []string{"n1:1", "n2:1", "n3:1"})
	less := BuildRing(2, []string{"n1:1", "n3:1"})

	// removing n2 must only remap n2's keys
	moved := 0
	for _, key := range sampleKeys(3000) {
		was := full.Owner(key)
		now := less.Owner(key)
		if was == "n2:1" {
			if now == "n2:1" {
				t.Fatalf("removed member still owns %q", key)
			}
			moved++
			continue
		}
		if was != now {
			t.Errorf("key %q moved from %s to %s although its owner stayed on the ring", key, was, now)
		}
	}
	if moved == 0 {
		t.Errorf("expected the removed member to have owned some keys")
	}
}

func TestRingBalance(t *testing.T) {
	ring := BuildRing(1, []string{"n1:1", "n2:1", "n3:1"})

	counts := make(map[string]int)
	keys := sampleKeys(9000)
	for _, key := range keys {
		counts[ring.Owner(key)]++
	}

	for member, n := range counts {
		share := float64(n) / float64(len(keys))
		if share < 0.15 {
			t.Errorf("member %s owns only %.1f%% of the key space", member, share*100)
		}
	}
	if len(counts) != 3 {
		t.Errorf("expected all 3 members to own keys, got %d", len(counts))
	}
}

func TestRingSingleMember(t *testing.T) {
	ring := BuildRing(1, []string{"n1:1"})
	for _, key := range sampleKeys(100) {
		if !ring.Owns(key, "n1:1") {
			t.Fatalf("single member must own every key, missed %q", key)
		}
	}
}

func TestRingEmpty(t *testing.T) {
	ring := BuildRing(1, nil)
	if !ring.Empty() {
		t.Errorf("expected empty ring")
	}
	if owner := ring.Owner("some-key"); owner != "" {
		t.Errorf("empty ring must own nothing, got %q", owner)
	}
	if ring.Owns("some-key", "n1:1") {
		t.Errorf("empty ring must not report ownership")
	}
}

func TestRingSameMembers(t *testing.T) {
	a := BuildRing(1, []string{"n1:1", "n2:1"})
	b := BuildRing(2, []string{"n2:1", "n1:1"})
	c := BuildRing(3, []string{"n1:1", "n3:1"})

	if !a.SameMembers(b) {
		t.Errorf("expected identical member sets")
	}
	if a.SameMembers(c) {
		t.Errorf("expected differing member sets")
	}
	if a.SameMembers(nil) {
		t.Errorf("nil ring must not match")
	}
}
