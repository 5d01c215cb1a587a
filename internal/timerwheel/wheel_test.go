package timerwheel

import (
	"testing"
	"time"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

type memStore struct {
	entries map[string]Entry
}

func newMemStore() *memStore { return &memStore{entries: make(map[string]Entry)} }

func (m *memStore) PutTimer(e Entry) error     { m.entries[e.ID] = e; return nil }
func (m *memStore) DeleteTimer(id string) error { delete(m.entries, id); return nil }
func (m *memStore) ForEachTimer(fn func(Entry) error) error {
	for _, e := range m.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func TestScheduleAndPopOrdering(t *testing.T) {
	w := New(newMemStore())
	if err := w.Schedule(Entry{ID: "b", DueNs: 200}); err != nil {
		t.Fatal(err)
	}
	if err := w.Schedule(Entry{ID: "a", DueNs: 100}); err != nil {
		t.Fatal(err)
	}
	if err := w.Schedule(Entry{ID: "c", DueNs: 300}); err != nil {
		t.Fatal(err)
	}

	first, ok := w.Pop()
	if !ok || first.ID != "a" {
		t.Fatalf("want a first, got %+v", first)
	}
	second, ok := w.Pop()
	if !ok || second.ID != "b" {
		t.Fatalf("want b second, got %+v", second)
	}
}

func TestCancelRemovesEntry(t *testing.T) {
	store := newMemStore()
	w := New(store)
	_ = w.Schedule(Entry{ID: "x", DueNs: 50})
	if err := w.Cancel("x"); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 0 {
		t.Fatalf("want empty wheel after cancel, got len %d", w.Len())
	}
	if _, present := store.entries["x"]; present {
		t.Fatal("expected durable entry removed on cancel")
	}
}

func TestRecoverReplaysDurableEntries(t *testing.T) {
	store := newMemStore()
	store.entries["r1"] = Entry{ID: "r1", DueNs: 10}
	store.entries["r2"] = Entry{ID: "r2", DueNs: 20}

	w := New(store)
	if err := w.Recover(); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 2 {
		t.Fatalf("want 2 recovered entries, got %d", w.Len())
	}
}

func TestMissedOccurrencesCatchUp(t *testing.T) {
	r := &ir.RRuleNorm{Freq: "HOURLY", Interval: 1}
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(3*time.Hour + 30*time.Minute)
	window := last

	occ := MissedOccurrences(r, last, window, now)
	if len(occ) != 3 {
		t.Fatalf("want 3 missed hourly occurrences, got %d", len(occ))
	}
	for i, o := range occ {
		want := last.Add(time.Duration(i+1) * time.Hour)
		if !o.Equal(want) {
			t.Fatalf("occurrence %d: want %v got %v", i, want, o)
		}
	}
}

func TestResolveResumeCoalesceFiresOnce(t *testing.T) {
	r := &ir.RRuleNorm{Freq: "HOURLY", Interval: 1}
	td := &ir.TimerDescriptor{Kind: ir.TimerRecurring, RRule: r, Policy: ir.PolicyCoalesce}
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(5 * time.Hour)

	occ := ResolveResume(td, last, last, now)
	if len(occ) != 1 {
		t.Fatalf("coalesce must fire exactly once, got %d", len(occ))
	}
}

func TestResolveResumeCatchUpFiresEachMissed(t *testing.T) {
	r := &ir.RRuleNorm{Freq: "HOURLY", Interval: 1}
	td := &ir.TimerDescriptor{Kind: ir.TimerRecurring, RRule: r, Policy: ir.PolicyCatchUp}
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(4 * time.Hour)

	occ := ResolveResume(td, last, last, now)
	if len(occ) != 4 {
		t.Fatalf("catch-up must fire once per missed occurrence, got %d", len(occ))
	}
}

func TestValidateRecurringAcceptsSupportedFreq(t *testing.T) {
	if err := ValidateRecurring(&ir.RRuleNorm{Freq: "DAILY", Interval: 1}); err != nil {
		t.Fatalf("expected DAILY to validate: %v", err)
	}
}

func TestSimpleCalendarSkipsWeekends(t *testing.T) {
	cal := SimpleCalendar{}
	fri := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) // a Friday
	got := cal.AddBusinessDays(fri, 1)
	if got.Weekday() != time.Monday {
		t.Fatalf("want next business day after Friday to be Monday, got %v", got.Weekday())
	}
}
