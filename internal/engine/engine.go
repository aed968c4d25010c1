// Package engine is the result-synchronization core. It funnels every
// state-affecting event (query completion, filter change, clear, activation)
// through the entity store and pushes a full rebuild of every registered view
// so no view can hold state the store does not.
package engine

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"sigmap/internal/entity"
	"sigmap/internal/filter"
	"sigmap/internal/metrics"
	"sigmap/internal/state"
)

// Point is a finite coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Viewport is a recenter command: center the map on a point without letting
// the zoom drop below the floor.
type Viewport struct {
	Center    Point `json:"center"`
	ZoomFloor int   `json:"zoom_floor"`
}

// Row is one rendered result-list entry.
type Row struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Secondary   string `json:"secondary,omitempty"`
	Coordinates *Point `json:"coordinates,omitempty"`
}

// Marker is one map marker, device or tower. Only entities with finite
// coordinates become markers.
type Marker struct {
	Point
	Title  string `json:"title"`
	Type   string `json:"type,omitempty"`
	Vendor string `json:"vendor,omitempty"`
	Meta   string `json:"meta,omitempty"`
}

// ViewUpdate is the full rebuild payload pushed to every view. Views clear
// and repopulate from it; there is no incremental diff.
type ViewUpdate struct {
	Rows        []Row     `json:"rows"`
	Placeholder string    `json:"placeholder,omitempty"`
	Markers     []Marker  `json:"markers"`
	Towers      []Marker  `json:"towers"`
	Viewport    *Viewport `json:"viewport,omitempty"`
	Focus       *Point    `json:"focus,omitempty"`
	Status      string    `json:"status"`
}

// View receives full rebuilds. Implementations must not call back into the
// engine from Rebuild.
type View interface {
	Rebuild(ViewUpdate)
}

// Options tunes the recenter zoom floors.
type Options struct {
	ZoomFloorQuery    int // recenter after a nearby/search result set
	ZoomFloorActivate int // recenter on result activation
	ZoomFloorSaved    int // recenter on saved-location activation
}

// Query families, used for busy tracking and metrics labels.
const (
	FamilyNearby     = "nearby"
	FamilySearch     = "search"
	FamilyTowers     = "towers"
	FamilyTowerCells = "towercells"
)

const exportFilename = "sigmap-results.json"

// Engine owns the store and the registered views. Methods are safe for
// concurrent use; overlapping queries are ordered by a monotonic generation
// counter so a slow early response can never overwrite newer state.
type Engine struct {
	log     zerolog.Logger
	client  QueryClient
	store   *state.Store
	metrics *metrics.Metrics

	zoomFloorQuery    int
	zoomFloorActivate int
	zoomFloorSaved    int

	mu       sync.Mutex
	views    []View
	gen      uint64
	busy     map[string]bool
	queried  bool
	status   string
	focus    *Point
	viewport *Viewport
}

func New(log zerolog.Logger, client QueryClient, store *state.Store, m *metrics.Metrics, opts Options) *Engine {
	zq := opts.ZoomFloorQuery
	if zq <= 0 {
		zq = 14
	}
	za := opts.ZoomFloorActivate
	if za <= 0 {
		za = 16
	}
	zs := opts.ZoomFloorSaved
	if zs <= 0 {
		zs = 15
	}
	return &Engine{
		log:               log,
		client:            client,
		store:             store,
		metrics:           m,
		zoomFloorQuery:    zq,
		zoomFloorActivate: za,
		zoomFloorSaved:    zs,
		busy:              map[string]bool{},
		status:            "Ready",
	}
}

// RegisterView attaches a view and immediately pushes the current state so a
// late joiner starts synchronized.
func (e *Engine) RegisterView(v View) {
	e.mu.Lock()
	e.views = append(e.views, v)
	update := e.buildUpdateLocked()
	e.mu.Unlock()
	v.Rebuild(update)
}

// Snapshot returns what a freshly attached view would be told to render.
func (e *Engine) Snapshot() ViewUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildUpdateLocked()
}

// rebuild recomputes the filtered working set and pushes a full rebuild to
// every registered view.
func (e *Engine) rebuild() {
	e.mu.Lock()
	update := e.buildUpdateLocked()
	views := append([]View(nil), e.views...)
	e.mu.Unlock()

	e.metrics.IncViewRebuild()
	for _, v := range views {
		v.Rebuild(update)
	}
}

// buildUpdateLocked derives every view payload from the store. Devices
// precede towers, matching the underlying concatenation order.
func (e *Engine) buildUpdateLocked() ViewUpdate {
	criteria := e.store.Criteria()
	devices := filter.Apply(e.store.Devices(), criteria)
	towers := filter.Apply(e.store.Towers(), criteria)

	update := ViewUpdate{
		Rows:     make([]Row, 0, len(devices)+len(towers)),
		Markers:  buildMarkers(devices, deviceMarker),
		Towers:   buildMarkers(towers, towerMarker),
		Viewport: e.viewport,
		Focus:    e.focus,
		Status:   e.status,
	}
	for _, ent := range devices {
		update.Rows = append(update.Rows, buildRow(ent))
	}
	for _, ent := range towers {
		update.Rows = append(update.Rows, buildRow(ent))
	}

	// Distinguish "query succeeded with zero matches" from "no query yet".
	if e.queried && len(update.Rows) == 0 {
		update.Placeholder = "No results"
	}
	return update
}

func buildRow(ent entity.Entity) Row {
	row := Row{
		Type:      ent.Type(),
		Name:      ent.DisplayName(),
		Secondary: secondaryLine(ent),
	}
	if row.Type == "" {
		row.Type = "device"
	}
	if row.Name == "" {
		row.Name = "Unknown"
	}
	if lat, lon, ok := ent.Coordinates(); ok {
		row.Coordinates = &Point{Lat: lat, Lon: lon}
	}
	return row
}

// secondaryLine picks the secondary metadata: vendor/org first, then the
// timestamp/info/signal chain, first non-empty wins.
func secondaryLine(ent entity.Entity) string {
	if v := ent.Vendor(); v != "" {
		return v
	}
	return ent.Metadata()
}

func buildMarkers(items []entity.Entity, build func(entity.Entity, Point) Marker) []Marker {
	out := make([]Marker, 0, len(items))
	for _, ent := range items {
		lat, lon, ok := ent.Coordinates()
		if !ok {
			continue
		}
		out = append(out, build(ent, Point{Lat: lat, Lon: lon}))
	}
	return out
}

func deviceMarker(ent entity.Entity, p Point) Marker {
	title := ent.DisplayName()
	if title == "" {
		title = "Device"
	}
	return Marker{
		Point:  p,
		Title:  title,
		Type:   ent.Type(),
		Vendor: ent.Vendor(),
		Meta:   ent.Metadata(),
	}
}

func towerMarker(ent entity.Entity, p Point) Marker {
	title := strings.TrimSpace("Tower " + ent.DisplayName())
	typ := ent.Type()
	if typ == "" {
		typ = "cell_tower"
	}
	return Marker{
		Point:  p,
		Title:  title,
		Type:   typ,
		Vendor: ent.Vendor(),
		Meta:   ent.Metadata(),
	}
}
