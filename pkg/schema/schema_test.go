package schema

import "testing"

func TestColumnIDPacking(t *testing.T) {
	id := MakeColumnID(7, ColDelta)
	if id.Group() != 7 {
		t.Fatalf("Group() = %d, want 7", id.Group())
	}
	if id.Type() != ColDelta {
		t.Fatalf("Type() = %d, want %d", id.Type(), ColDelta)
	}
}

func TestChangeOpColumnOrderAscending(t *testing.T) {
	if !InAscendingOrder(ChangeOpColumnOrder) {
		t.Fatalf("ChangeOpColumnOrder not ascending: %v", ChangeOpColumnOrder)
	}
}

func TestDocOpColumnOrderAscending(t *testing.T) {
	if !InAscendingOrder(DocOpColumnOrder) {
		t.Fatalf("DocOpColumnOrder not ascending: %v", DocOpColumnOrder)
	}
}

func TestChangeMetaColumnOrderAscending(t *testing.T) {
	if !InAscendingOrder(ChangeMetaColumnOrder) {
		t.Fatalf("ChangeMetaColumnOrder not ascending: %v", ChangeMetaColumnOrder)
	}
}

func TestInAscendingOrderDetectsViolation(t *testing.T) {
	bad := []ColumnID{ColKeyStr, ColObjActor}
	if InAscendingOrder(bad) {
		t.Fatal("expected out-of-order columns to be rejected")
	}
}

func TestSuccPredGroupsAreDistinct(t *testing.T) {
	// succ* and pred* columns occupy distinct groups (7 vs 8) so a
	// reader can't confuse a change-op's pred with a doc-op's succ.
	if ColPredActor.Group() == ColSuccActor.Group() {
		t.Fatal("pred and succ columns must not share a group id")
	}
}
