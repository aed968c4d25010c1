package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"sigmap/internal/entity"
	"sigmap/internal/filter"
	"sigmap/internal/queryapi"
	"sigmap/internal/state"
)

// QueryClient is the outbound façade the engine drives. *queryapi.Client
// satisfies this.
type QueryClient interface {
	Status(ctx context.Context) (map[string]bool, error)
	Nearby(ctx context.Context, lat, lon float64, mode string) (queryapi.DeviceResult, error)
	Search(ctx context.Context, deviceType, query string) (queryapi.DeviceResult, error)
	Towers(ctx context.Context, lat, lon float64) (queryapi.TowerResult, error)
	TowerCells(ctx context.Context, lat, lon float64) (queryapi.TowerResult, error)
}

// begin marks a family busy and issues a fresh request generation. Results
// captured under an older generation are discarded on arrival.
func (e *Engine) begin(family string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[family] {
		return 0, &BusyError{Family: family}
	}
	e.busy[family] = true
	e.gen++
	return e.gen, nil
}

func (e *Engine) end(family string) {
	e.mu.Lock()
	delete(e.busy, family)
	e.mu.Unlock()
}

// applyIfCurrent runs fn under the engine lock only when gen is still the
// latest issued generation. Stale completions are counted and dropped.
func (e *Engine) applyIfCurrent(gen uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return false
	}
	fn()
	return true
}

// Nearby runs the nearby-device query. The prior working set is cleared
// before the request is issued, matching the per-action view-clearing
// contract; a failure therefore leaves an empty working set behind.
func (e *Engine) Nearby(ctx context.Context, lat, lon float64, mode string) error {
	if err := validateCoords(lat, lon); err != nil {
		return err
	}
	gen, err := e.begin(FamilyNearby)
	if err != nil {
		return err
	}
	defer e.end(FamilyNearby)

	focus := Point{Lat: lat, Lon: lon}
	e.clearForQuery("Querying nearby…", &focus)
	e.rebuild()

	start := time.Now()
	res, err := e.client.Nearby(ctx, lat, lon, mode)
	applied := e.applyIfCurrent(gen, func() {
		if err != nil {
			e.status = "Ready"
			return
		}
		e.store.ReplaceDevices(res.Devices)
		e.store.SetExport(res.Raw, exportFilename)
		e.queried = true
		e.status = fmt.Sprintf("Nearby: %d device(s)", len(res.Devices))
		if res.Cached {
			e.status += " (cached)"
		}
		if len(res.Devices) > 0 {
			e.viewport = &Viewport{Center: focus, ZoomFloor: e.zoomFloorQuery}
		}
	})
	if !applied {
		e.discardStale(FamilyNearby, gen)
		return nil
	}
	e.metrics.ObserveQuery(FamilyNearby, outcome(err), time.Since(start))
	e.rebuild()
	return err
}

// Search runs the free-text device search. Query text is required.
func (e *Engine) Search(ctx context.Context, deviceType, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return &ValidationError{Msg: "Search query is required."}
	}
	gen, err := e.begin(FamilySearch)
	if err != nil {
		return err
	}
	defer e.end(FamilySearch)

	e.clearForQuery("Searching…", nil)
	e.rebuild()

	start := time.Now()
	res, err := e.client.Search(ctx, deviceType, query)
	applied := e.applyIfCurrent(gen, func() {
		if err != nil {
			e.status = "Ready"
			return
		}
		e.store.ReplaceDevices(res.Devices)
		e.store.SetExport(res.Raw, exportFilename)
		e.queried = true
		e.status = fmt.Sprintf("Search: %d result(s)", len(res.Devices))
		if first, ok := firstLocated(res.Devices); ok {
			e.viewport = &Viewport{Center: first, ZoomFloor: e.zoomFloorSaved}
		}
	})
	if !applied {
		e.discardStale(FamilySearch, gen)
		return nil
	}
	e.metrics.ObserveQuery(FamilySearch, outcome(err), time.Since(start))
	e.rebuild()
	return err
}

// Towers runs the tabular tower query. Only the tower layer is cleared up
// front; devices, selection, and the export snapshot are left alone until a
// successful response replaces the snapshot.
func (e *Engine) Towers(ctx context.Context, lat, lon float64) error {
	return e.towerQuery(ctx, FamilyTowers, lat, lon, "Fetching towers…", e.client.Towers)
}

// TowerCells runs the geojson-flavored tower query.
func (e *Engine) TowerCells(ctx context.Context, lat, lon float64) error {
	return e.towerQuery(ctx, FamilyTowerCells, lat, lon, "Fetching GeoJSON towers…", e.client.TowerCells)
}

func (e *Engine) towerQuery(
	ctx context.Context,
	family string,
	lat, lon float64,
	progress string,
	call func(context.Context, float64, float64) (queryapi.TowerResult, error),
) error {
	if err := validateCoords(lat, lon); err != nil {
		return err
	}
	gen, err := e.begin(family)
	if err != nil {
		return err
	}
	defer e.end(family)

	focus := Point{Lat: lat, Lon: lon}
	e.store.ReplaceTowers(nil)
	e.mu.Lock()
	e.focus = &focus
	e.status = progress
	e.mu.Unlock()
	e.rebuild()

	start := time.Now()
	res, err := call(ctx, lat, lon)
	applied := e.applyIfCurrent(gen, func() {
		if err != nil {
			e.status = "Ready"
			return
		}
		e.store.ReplaceTowers(res.Towers)
		e.store.SetExport(res.Raw, exportFilename)
		e.queried = true
		label := "Towers"
		if family == FamilyTowerCells {
			label = "GeoJSON towers"
		}
		e.status = fmt.Sprintf("%s: %d", label, len(res.Towers))
	})
	if !applied {
		e.discardStale(family, gen)
		return nil
	}
	e.metrics.ObserveQuery(family, outcome(err), time.Since(start))
	e.rebuild()
	return err
}

// Clear empties devices, towers, selection, and the export snapshot in one
// step and rebuilds every view to its empty state.
func (e *Engine) Clear() {
	e.clearForQuery("Cleared", nil)
	e.rebuild()
}

// clearForQuery is the shared view-clearing step: wipe the store, drop
// focus/viewport, and reset the queried flag so the empty views read as "no
// query yet" rather than "zero matches".
func (e *Engine) clearForQuery(status string, focus *Point) {
	e.store.Clear()
	e.mu.Lock()
	e.queried = false
	e.focus = focus
	e.viewport = nil
	e.status = status
	e.mu.Unlock()
}

// SetFilterText updates the free-text criterion and resynchronizes views.
func (e *Engine) SetFilterText(text string) {
	c := e.store.Criteria()
	c.Text = text
	e.store.SetCriteria(c)
	e.rebuild()
}

// SetTypes replaces the selected category keys.
func (e *Engine) SetTypes(types []string) {
	c := e.store.Criteria()
	c.Types = types
	e.store.SetCriteria(c)
	e.rebuild()
}

// SetCriteria replaces the whole filter criteria in one step.
func (e *Engine) SetCriteria(c filter.Criteria) {
	e.store.SetCriteria(c)
	e.rebuild()
}

// ToggleType flips one category key on or off.
func (e *Engine) ToggleType(key string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	c := e.store.Criteria()
	kept := make([]string, 0, len(c.Types)+1)
	found := false
	for _, t := range c.Types {
		if t == key {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		kept = append(kept, key)
	}
	c.Types = kept
	e.store.SetCriteria(c)
	e.rebuild()
}

// Criteria returns the active filter criteria.
func (e *Engine) Criteria() filter.Criteria {
	return e.store.Criteria()
}

// Activate selects the index-th entry of the filtered working set for
// detailed inspection and, when its coordinates are finite, recenters the
// viewport without letting zoom drop below the activation floor.
func (e *Engine) Activate(index int) (state.Selection, error) {
	criteria := e.store.Criteria()
	items := filter.Apply(e.store.Combined(), criteria)
	if index < 0 || index >= len(items) {
		return state.Selection{}, &ValidationError{Msg: fmt.Sprintf("no result at index %d", index)}
	}

	ent := items[index]
	title := ent.DisplayName()
	if title == "" {
		title = "Details"
	}
	e.store.Select(title, ent)
	if lat, lon, ok := ent.Coordinates(); ok {
		e.mu.Lock()
		e.viewport = &Viewport{Center: Point{Lat: lat, Lon: lon}, ZoomFloor: e.zoomFloorActivate}
		e.mu.Unlock()
	}
	e.rebuild()
	return e.store.Selection(), nil
}

// Selection returns the current detail-channel state.
func (e *Engine) Selection() state.Selection {
	return e.store.Selection()
}

// CloseDetail hides the detail view without discarding its content.
func (e *Engine) CloseDetail() {
	e.store.CloseDetail()
}

// FocusCoordinate recenters on an arbitrary coordinate (saved-location
// activation, map click) without issuing a query.
func (e *Engine) FocusCoordinate(lat, lon float64) error {
	if err := validateCoords(lat, lon); err != nil {
		return err
	}
	e.mu.Lock()
	p := Point{Lat: lat, Lon: lon}
	e.focus = &p
	e.viewport = &Viewport{Center: p, ZoomFloor: e.zoomFloorSaved}
	e.mu.Unlock()
	e.rebuild()
	return nil
}

// Export returns the last raw successful payload for download.
func (e *Engine) Export() (*state.Export, error) {
	exp := e.store.Export()
	if exp == nil {
		return nil, &ValidationError{Msg: "Nothing to export. Run a query first."}
	}
	return exp, nil
}

// Providers proxies the backend status query.
func (e *Engine) Providers(ctx context.Context) (map[string]bool, error) {
	return e.client.Status(ctx)
}

func (e *Engine) discardStale(family string, gen uint64) {
	e.metrics.IncStaleResponse()
	e.log.Debug().
		Str("family", family).
		Uint64("generation", gen).
		Msg("discarding stale query response")
}

func validateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return &ValidationError{Msg: "Latitude/Longitude must be valid numbers."}
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func firstLocated(items []entity.Entity) (Point, bool) {
	for _, ent := range items {
		if lat, lon, ok := ent.Coordinates(); ok {
			return Point{Lat: lat, Lon: lon}, true
		}
	}
	return Point{}, false
}
