package chain

import "testing"

func TestDedupSet_SeenOrAdd(t *testing.T) {
	d := NewDedupSet(0)

	if d.SeenOrAdd("a") {
		t.Error("first insert should report not-seen")
	}
	if !d.SeenOrAdd("a") {
		t.Error("second insert of same id should report seen")
	}
}

func TestDedupSet_EvictsOldestAtCeiling(t *testing.T) {
	d := NewDedupSet(2)

	d.SeenOrAdd("a")
	d.SeenOrAdd("b")
	d.SeenOrAdd("c") // evicts "a"

	// Check b first: re-adding a at the ceiling would evict b.
	if !d.SeenOrAdd("b") {
		t.Error("b should still be tracked as seen")
	}
	if d.SeenOrAdd("a") {
		t.Error("a should have been evicted and treated as unseen")
	}
}

func TestDedupSet_ZeroCeilingUsesDefault(t *testing.T) {
	d := NewDedupSet(0)
	if d.ceiling != DefaultDedupCeiling {
		t.Errorf("ceiling = %d, want %d", d.ceiling, DefaultDedupCeiling)
	}
}
