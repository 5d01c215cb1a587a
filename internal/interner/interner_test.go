package interner

import "testing"

func TestInternIsIdempotent(t *testing.T) {
	b := NewBuilder()
	id1 := b.Intern("yawl:Task1")
	id2 := b.Intern("yawl:Task1")
	if id1 != id2 {
		t.Fatalf("Intern not idempotent: %d != %d", id1, id2)
	}
	if b.Intern("yawl:Task2") == id1 {
		t.Fatal("distinct strings must get distinct ids")
	}
}

func TestFreezeRoundTrips(t *testing.T) {
	b := NewBuilder()
	strs := []string{
		"yawl:authorize", "yawl:post-ledger", "yawl:dispense",
		"time:Interval", "ical:RRULE", "org:Teller", "skos:cashOps",
		"prov:Activity", "yawl:Condition", "yawl:Flow",
	}
	ids := make(map[string]uint32, len(strs))
	for _, s := range strs {
		ids[s] = b.Intern(s)
	}

	frozen, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	for _, s := range strs {
		got, ok := frozen.Lookup(s)
		if !ok {
			t.Fatalf("Lookup(%q) not found", s)
		}
		if got != ids[s] {
			t.Fatalf("Lookup(%q) = %d, want %d", s, got, ids[s])
		}
		resolved, ok := frozen.Resolve(got)
		if !ok || resolved != s {
			t.Fatalf("Resolve(%d) = %q,%v want %q", got, resolved, ok, s)
		}
	}

	if _, ok := frozen.Lookup("yawl:NeverInterned"); ok {
		t.Fatal("Lookup of a never-interned string must fail")
	}
}

func TestFreezeEmptyBuilder(t *testing.T) {
	frozen, err := NewBuilder().Freeze()
	if err != nil {
		t.Fatalf("unexpected error on empty builder: %v", err)
	}
	if frozen.Len() != 0 {
		t.Fatalf("want empty frozen table, got len %d", frozen.Len())
	}
}
