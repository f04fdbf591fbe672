package rdm

import (
	"reflect"
	"testing"
)

func TestIncrementalDiscoveryLosesAndRecoversDevice(t *testing.T) {
	inv := NewInventory()
	inv.tod = []UID{1, 2} // A=1, B=2

	// A responds, B does not.
	inv.ApplyIncremental(nil, []UID{2}, map[UID]bool{2: false})
	if got := inv.TOD(); !reflect.DeepEqual(got, []UID{1}) {
		t.Fatalf("tod = %v, want [1]", got)
	}
	if got := inv.Lost(); !reflect.DeepEqual(got, []UID{2}) {
		t.Fatalf("lost = %v, want [2]", got)
	}

	// B responds again.
	inv.ApplyIncremental([]UID{2}, nil, nil)
	if got := inv.TOD(); !(containsUID(got, 1) && containsUID(got, 2) && len(got) == 2) {
		t.Fatalf("tod = %v, want {1,2}", got)
	}
	if got := inv.Lost(); len(got) != 0 {
		t.Fatalf("lost = %v, want empty", got)
	}
}

func TestReplaceTODReportsAddedAndRemoved(t *testing.T) {
	inv := NewInventory()
	inv.tod = []UID{1, 2, 3}

	added, removed := inv.ReplaceTOD([]UID{2, 3, 4}, nil)
	if !reflect.DeepEqual(added, []UID{4}) {
		t.Fatalf("added = %v, want [4]", added)
	}
	if !reflect.DeepEqual(removed, []UID{1}) {
		t.Fatalf("removed = %v, want [1]", removed)
	}
	if got := inv.TOD(); !reflect.DeepEqual(got, []UID{2, 3, 4}) {
		t.Fatalf("tod = %v, want [2,3,4]", got)
	}
}

func TestInvariantsHoldAfterMutation(t *testing.T) {
	inv := NewInventory()
	inv.tod = []UID{1, 2, 3}
	inv.proxies[2] = true

	inv.ApplyIncremental(nil, []UID{2}, map[UID]bool{2: false})

	for _, u := range inv.TOD() {
		if containsUID(inv.Lost(), u) {
			t.Fatalf("uid %d present in both tod and lost", u)
		}
	}
	if inv.IsProxy(2) {
		t.Fatalf("lost device should no longer be tracked as a proxy")
	}
}
