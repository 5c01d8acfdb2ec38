package status

import "testing"

func TestLookup_KnownAndFallback(t *testing.T) {
	if got := Lookup(3); got.Label != "Good" {
		t.Fatalf("Lookup(3)=%+v want Good", got)
	}
	if got := Lookup(42); got != Unknown {
		t.Fatalf("Lookup(42)=%+v want %+v", got, Unknown)
	}
	if got := Lookup(0); got != Unknown {
		t.Fatalf("Lookup(0)=%+v want fallback", got)
	}
}

func TestAll_CoversOneToTen(t *testing.T) {
	all := All()
	if len(all) != 10 {
		t.Fatalf("len=%d want 10", len(all))
	}
	for i, e := range all {
		if e.Code != i+1 {
			t.Fatalf("entry %d has code %d", i, e.Code)
		}
		if e.Label == "" || e.Color == "" {
			t.Fatalf("entry %d incomplete: %+v", i, e)
		}
	}
}
