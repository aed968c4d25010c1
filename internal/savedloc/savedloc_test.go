package savedloc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSlot struct {
	values map[string]string
	getErr error
	putErr error
}

func newFakeSlot() *fakeSlot {
	return &fakeSlot{values: map[string]string{}}
}

func (f *fakeSlot) Get(key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeSlot) Put(key, value string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.values[key] = value
	return nil
}

func newTestRepo() (*Repo, *fakeSlot) {
	slot := newFakeSlot()
	return New(slot, zerolog.Nop()), slot
}

func TestAddInsertsAtFront(t *testing.T) {
	r, _ := newTestRepo()

	first, err := r.Add("home", 51.5, -0.09)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	second, err := r.Add("office", 48.85, 2.35)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	items := r.List()
	if len(items) != 2 {
		t.Fatalf("List() length = %d, want 2", len(items))
	}
	if items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("List() not most-recent-first: %v", items)
	}
	if first.ID == second.ID {
		t.Fatal("ids must be unique")
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	r, _ := newTestRepo()
	for i := 0; i < 5; i++ {
		if _, err := r.Add(fmt.Sprintf("loc-%d", i), float64(i), float64(-i)); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	before := r.List()

	added, err := r.Add("transient", 1.5, 2.5)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := r.Remove(added.ID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	after := r.List()
	if len(after) != len(before) {
		t.Fatalf("round-trip changed length: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("round-trip changed entry %d: %+v vs %+v", i, after[i], before[i])
		}
	}
}

func TestCapDropsExactlyTheOldest(t *testing.T) {
	r, _ := newTestRepo()
	for i := 0; i < MaxEntries; i++ {
		if _, err := r.Add(fmt.Sprintf("loc-%d", i), 0, 0); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	items := r.List()
	oldest := items[len(items)-1]
	nextOldest := items[len(items)-2]

	if _, err := r.Add("overflow", 0, 0); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	items = r.List()
	if len(items) != MaxEntries {
		t.Fatalf("List() length = %d, want %d", len(items), MaxEntries)
	}
	if items[0].Name != "overflow" {
		t.Fatalf("newest entry = %q", items[0].Name)
	}
	for _, loc := range items {
		if loc.ID == oldest.ID {
			t.Fatal("oldest entry should have been dropped")
		}
	}
	if items[len(items)-1].ID != nextOldest.ID {
		t.Fatal("only the single oldest entry should be dropped")
	}
}

func TestRemoveAbsentIDIsNoOp(t *testing.T) {
	r, _ := newTestRepo()
	r.Add("home", 51.5, -0.09)

	if err := r.Remove("no-such-id"); err != nil {
		t.Fatalf("Remove() of absent id should be a no-op, got %v", err)
	}
	if len(r.List()) != 1 {
		t.Fatal("collection changed by absent-id removal")
	}
}

func TestMalformedSlotDegradesToEmpty(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"string instead of array", `"oops"`},
		{"object instead of array", `{"id":"x"}`},
		{"not json at all", `<<<>>>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slot := newFakeSlot()
			slot.values["saved_locations.v1"] = tc.raw
			r := New(slot, zerolog.Nop())
			if got := r.List(); len(got) != 0 {
				t.Fatalf("List() = %v, want empty", got)
			}
		})
	}
}

func TestSlotReadErrorDegradesToEmpty(t *testing.T) {
	slot := newFakeSlot()
	slot.getErr = errors.New("disk on fire")
	r := New(slot, zerolog.Nop())
	if got := r.List(); len(got) != 0 {
		t.Fatalf("List() = %v, want empty", got)
	}
}

func TestWriteFailureIsPersistenceError(t *testing.T) {
	slot := newFakeSlot()
	slot.putErr = errors.New("disk full")
	r := New(slot, zerolog.Nop())

	_, err := r.Add("home", 51.5, -0.09)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *PersistenceError", err)
	}
}

func TestEmptyNameGetsTimestampedDefault(t *testing.T) {
	r, _ := newTestRepo()
	loc, err := r.Add("", 51.5, -0.09)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if loc.Name == "" {
		t.Fatal("empty name should get a default")
	}
}

func TestFind(t *testing.T) {
	r, _ := newTestRepo()
	loc, _ := r.Add("home", 51.5, -0.09)

	got, ok := r.Find(loc.ID)
	if !ok || got.Name != "home" {
		t.Fatalf("Find() = %+v ok %v", got, ok)
	}
	if _, ok := r.Find("missing"); ok {
		t.Fatal("Find() of absent id should report false")
	}
}
