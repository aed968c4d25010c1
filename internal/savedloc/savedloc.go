// Package savedloc is the persisted repository of named coordinate
// bookmarks. The collection is independent of query state: it survives
// restarts, is ordered most-recently-added-first, and is capped at 50
// entries.
package savedloc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// slotKey names the persisted slot holding the bookmark collection.
const slotKey = "saved_locations.v1"

// MaxEntries caps the collection; the oldest entries beyond the cap are
// silently dropped on every write.
const MaxEntries = 50

// Location is one named coordinate bookmark. ID is the only stable handle
// for deletion.
type Location struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Slot is the persisted key-value slot the repository writes through.
// *prefstore.Store satisfies this.
type Slot interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// PersistenceError wraps the rare write-failure path. Loads never fail
// outward; malformed persisted data degrades to an empty collection.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saved locations: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Repo struct {
	slot Slot
	log  zerolog.Logger
	now  func() time.Time
}

func New(slot Slot, log zerolog.Logger) *Repo {
	return &Repo{slot: slot, log: log, now: time.Now}
}

// List returns the collection most-recent-first. A missing slot, a parse
// failure, or a non-array value all degrade to an empty list.
func (r *Repo) List() []Location {
	raw, ok, err := r.slot.Get(slotKey)
	if err != nil || !ok {
		if err != nil {
			r.log.Debug().Err(err).Msg("saved locations unreadable, degrading to empty")
		}
		return nil
	}

	var items []Location
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.log.Debug().Err(err).Msg("saved locations malformed, degrading to empty")
		return nil
	}
	return items
}

// Add inserts a bookmark at the front, truncates to the cap, and persists.
// Lat/lon are the caller's responsibility to parse and validate as finite
// before calling. An empty name gets a timestamped default.
func (r *Repo) Add(name string, lat, lon float64) (Location, error) {
	if name == "" {
		name = "Location " + r.now().Format("2006-01-02 15:04:05")
	}
	loc := Location{ID: r.newID(), Name: name, Lat: lat, Lon: lon}

	items := append([]Location{loc}, r.List()...)
	if len(items) > MaxEntries {
		items = items[:MaxEntries]
	}
	if err := r.save(items); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Remove deletes the bookmark with the given id and persists the remainder.
// An absent id is a no-op, not an error.
func (r *Repo) Remove(id string) error {
	items := r.List()
	kept := items[:0]
	for _, loc := range items {
		if loc.ID != id {
			kept = append(kept, loc)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return r.save(kept)
}

// Find returns the bookmark with the given id, if present.
func (r *Repo) Find(id string) (Location, bool) {
	for _, loc := range r.List() {
		if loc.ID == id {
			return loc, true
		}
	}
	return Location{}, false
}

func (r *Repo) save(items []Location) error {
	if items == nil {
		items = []Location{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return &PersistenceError{Op: "encode", Err: err}
	}
	if err := r.slot.Put(slotKey, string(b)); err != nil {
		return &PersistenceError{Op: "write", Err: err}
	}
	return nil
}

// newID issues a fresh random token, falling back to a timestamp when the
// random source is unavailable.
func (r *Repo) newID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return strconv.FormatInt(r.now().UnixMilli(), 10)
	}
	return id.String()
}
