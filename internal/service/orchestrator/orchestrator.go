// Package orchestrator drives the part search form: debounced vehicle lookup,
// part search, category choice and links. State transitions live in Reduce;
// the Orchestrator adds timers and I/O around it.
package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/events"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/models"
)

const DefaultDebounce = 500 * time.Millisecond

type VehicleLookup interface {
	Lookup(ctx context.Context, plate string) (models.VehicleInfo, error)
}

type PartSearch interface {
	SearchParts(ctx context.Context, q models.PartQuery) (models.PartSearchResult, error)
	CategoryData(ctx context.Context, sessionID string, category string) (models.CategoryData, error)
}

type Config struct {
	// Quiet period after the last plate edit before the lookup fires
	Debounce time.Duration
}

type subscriber struct {
	id int
	fn func(State)
}

type Orchestrator struct {
	vehicles VehicleLookup
	search   PartSearch
	bus      *events.Bus
	logger   logger.Logger
	debounce time.Duration

	mu    sync.Mutex
	state State
	timer *time.Timer

	// Scheduled plus running lookups; idle is closed when there are none
	pending int
	idle    chan struct{}

	subs   []subscriber
	nextID int

	// Keeps notifications in the order states were produced
	notifyMu sync.Mutex
}

func New(cfg Config, vehicles VehicleLookup, search PartSearch, bus *events.Bus, l logger.Logger) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	idle := make(chan struct{})
	close(idle)

	return &Orchestrator{
		vehicles: vehicles,
		search:   search,
		bus:      bus,
		logger:   l,
		debounce: cfg.Debounce,
		idle:     idle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe calls fn with every new state until the returned func is called.
// fn runs on the goroutine that changed the state and must not call back into the Orchestrator.
func (o *Orchestrator) Subscribe(fn func(State)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscriber{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.subs = slices.DeleteFunc(o.subs, func(s subscriber) bool { return s.id == id })
	}
}

// SetPlate records a plate edit. Each edit restarts the quiet period; only the last value is looked up.
func (o *Orchestrator) SetPlate(raw string) State {
	return o.update(PlateChanged{Raw: raw}, func(prev, next State) {
		if next.Plate == prev.Plate {
			return
		}

		o.stopTimerLocked()
		if !lookupWanted(next.Plate) {
			return
		}

		plate := next.Plate
		o.addPendingLocked()
		o.timer = time.AfterFunc(o.debounce, func() { o.lookup(plate) })
	})
}

// SetPart records a part name edit. Categories, links and the search session are dropped.
func (o *Orchestrator) SetPart(name string) State {
	return o.update(PartChanged{Name: name}, nil)
}

// WaitVehicle blocks until no vehicle lookup is scheduled or running
func (o *Orchestrator) WaitVehicle(ctx context.Context) (State, error) {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return o.State(), nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

// Submit runs the part search for the current plate, part and vehicle.
// The returned State carries the user facing message; the error is for callers that branch.
func (o *Orchestrator) Submit(ctx context.Context) (State, error) {
	st := o.update(SearchStarted{}, nil)

	switch {
	case st.PlateError != "" || st.PartError != "":
		return st, formErrors(st)
	case st.Stage != StageSearching:
		if st.Error == MsgVehicleNotFound {
			return st, apperrors.ErrVehicleNotFound
		}
		return st, apperrors.ErrVehicleLoading
	}

	gen := st.Search
	q := models.PartQuery{
		LicensePlate: st.Plate,
		PartName:     st.PartName,
		CarType:      st.Vehicle.Brand,
		CarModel:     st.Vehicle.Model,
		CarModelType: st.Vehicle.CarType,
	}

	o.logger.Debug("Part search", "plate", q.LicensePlate, "part", q.PartName, "search", gen)
	result, err := o.search.SearchParts(ctx, q)
	if err != nil {
		o.logger.Warn("Part search failed", "plate", q.LicensePlate, "part", q.PartName, "error", err)
		return o.update(SearchFailed{Search: gen, Message: apiclient.ErrorMessage(err)}, nil), err
	}

	if result.Flag == models.FlagSelectCategory {
		return o.update(CategoriesReceived{
			Search:     gen,
			Categories: result.Categories,
			SessionID:  result.SessionID,
			Message:    result.Message,
		}, nil), nil
	}

	category, links, ok := firstCategory(result.Data)
	if !ok {
		return o.update(SearchFailed{Search: gen, Message: MsgNoPartInfo}, nil), apperrors.ErrNoPartInfo
	}
	return o.update(LinksReceived{Search: gen, Category: category, Links: links}, nil), nil
}

// SelectCategory fetches links for one of the offered categories
func (o *Orchestrator) SelectCategory(ctx context.Context, category string) (State, error) {
	st := o.update(CategorySelected{Category: category}, nil)
	gen := st.Search

	if st.SessionID == "" {
		return o.update(CategoryFailed{Search: gen, Message: MsgSessionExpired}, nil), apperrors.ErrNoSearchSession
	}

	data, err := o.search.CategoryData(ctx, st.SessionID, category)
	if err != nil {
		o.logger.Warn("Category data failed", "category", category, "error", err)
		return o.update(CategoryFailed{Search: gen, Message: MsgCategoryFailed}, nil), err
	}
	if data.Links == nil {
		return o.update(CategoryFailed{Search: gen, Message: MsgNoCategoryLinks}, nil), apperrors.ErrNoCategoryLinks
	}

	return o.update(LinksReceived{Search: gen, Category: category, Links: data.Links}, nil), nil
}

// Reset clears the form and cancels a scheduled lookup
func (o *Orchestrator) Reset() State {
	return o.update(Reset{}, func(State, State) {
		o.stopTimerLocked()
	})
}

// update applies ev, runs locked (if any) under the state lock and notifies subscribers
func (o *Orchestrator) update(ev Event, locked func(prev, next State)) State {
	o.mu.Lock()
	prev := o.state
	next := Reduce(prev, ev)
	o.state = next
	if locked != nil {
		locked(prev, next)
	}
	subs := slices.Clone(o.subs)

	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()

	for _, s := range subs {
		s.fn(next)
	}
	if o.bus != nil {
		o.bus.Publish(events.TopicSearchState, next)
	}

	return next
}

// lookup runs when the quiet period for plate is over
func (o *Orchestrator) lookup(plate string) {
	defer func() {
		o.mu.Lock()
		o.donePendingLocked()
		o.mu.Unlock()
	}()

	st := o.update(VehicleLookupStarted{Plate: plate}, nil)
	if st.Plate != plate {
		return
	}

	info, err := o.vehicles.Lookup(context.Background(), plate)
	switch {
	case err == nil:
		o.update(VehicleResolved{Plate: plate, Vehicle: info}, nil)
	case errors.Is(err, apperrors.ErrVehicleNotFound):
		o.update(VehicleFailed{Plate: plate, Message: MsgVehicleNotFound}, nil)
	default:
		o.logger.Warn("Vehicle lookup failed", "plate", plate, "error", err)
		o.update(VehicleFailed{Plate: plate, Message: MsgVehicleFetchFailed}, nil)
	}
}

func (o *Orchestrator) stopTimerLocked() {
	if o.timer == nil {
		return
	}
	// A timer that already fired accounts for itself in lookup
	if o.timer.Stop() {
		o.donePendingLocked()
	}
	o.timer = nil
}

func (o *Orchestrator) addPendingLocked() {
	if o.pending == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
}

func (o *Orchestrator) donePendingLocked() {
	o.pending--
	if o.pending == 0 {
		close(o.idle)
	}
}

// firstCategory picks the alphabetically first category that has links
func firstCategory(data map[string][]string) (string, []string, bool) {
	keys := make([]string, 0, len(data))
	for k, links := range data {
		if links != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", nil, false
	}

	sort.Strings(keys)
	return keys[0], data[keys[0]], true
}

func formErrors(st State) apperrors.FieldErrors {
	fe := apperrors.FieldErrors{}
	if st.PlateError != "" {
		fe["license_plate"] = []string{st.PlateError}
	}
	if st.PartError != "" {
		fe["part_name"] = []string{st.PartError}
	}
	return fe
}
