package bloom

import "testing"

func TestAddContains(t *testing.T) {
	f := New()
	f.Add(3, 100)
	f.Add(7, 250)
	if !f.Contains(3, 100) {
		t.Fatal("expected 3,100 to be contained")
	}
	if !f.Contains(7, 250) {
		t.Fatal("expected 7,250 to be contained")
	}
}

func TestDefiniteAbsence(t *testing.T) {
	f := New()
	f.Add(1, 1)
	// A filter with a single entry and 750 bytes / 7 probes should
	// reliably reject an unrelated, far-away id.
	if f.Contains(999999, 999999) {
		t.Fatal("expected a fresh unrelated id to be absent")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	f := New()
	f.Add(42, 17)
	f2 := NewFromBytes(f.Bytes())
	if !f2.Contains(42, 17) {
		t.Fatal("expected round-tripped filter to still contain the added id")
	}
}

func TestEmptyFilterContainsNothing(t *testing.T) {
	f := New()
	if f.Contains(1, 1) {
		t.Fatal("empty filter should not claim membership")
	}
}

func TestWidthAndProbes(t *testing.T) {
	if Width != 750 {
		t.Fatalf("Width = %d, want 750", Width)
	}
	if Probes != 7 {
		t.Fatalf("Probes = %d, want 7", Probes)
	}
	f := New()
	if len(f.Bytes()) != Width {
		t.Fatalf("Bytes() len = %d, want %d", len(f.Bytes()), Width)
	}
}
