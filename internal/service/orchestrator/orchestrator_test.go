package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/events"
	"github.com/nkiryanov/partsearch/internal/models"
	"github.com/nkiryanov/partsearch/internal/service/search"
	"github.com/nkiryanov/partsearch/internal/service/vehicle"
	"github.com/nkiryanov/partsearch/internal/testutil"
	"github.com/nkiryanov/partsearch/internal/tokenstore"
)

const testDebounce = 50 * time.Millisecond

type fakeVehicles struct {
	mu      sync.Mutex
	plates  []string
	known   map[string]models.VehicleInfo
	release chan struct{}
}

func (f *fakeVehicles) Lookup(ctx context.Context, plate string) (models.VehicleInfo, error) {
	f.mu.Lock()
	f.plates = append(f.plates, plate)
	release := f.release
	info, ok := f.known[plate]
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if !ok {
		return models.VehicleInfo{}, apperrors.ErrVehicleNotFound
	}
	return info, nil
}

func (f *fakeVehicles) Plates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plates...)
}

type fakeSearch struct {
	mu         sync.Mutex
	queries    []models.PartQuery
	categories int
	result     models.PartSearchResult
	err        error
	links      map[string][]string
}

func (f *fakeSearch) SearchParts(_ context.Context, q models.PartQuery) (models.PartSearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.result, f.err
}

func (f *fakeSearch) CategoryData(_ context.Context, _ string, category string) (models.CategoryData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories++
	return models.CategoryData{Links: f.links[category]}, nil
}

func (f *fakeSearch) Calls() (searches int, categories int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries), f.categories
}

func newFakeOrchestrator(t *testing.T) (*Orchestrator, *fakeVehicles, *fakeSearch) {
	t.Helper()

	vehicles := &fakeVehicles{known: map[string]models.VehicleInfo{"HR312G": golf}}
	searcher := &fakeSearch{
		result: models.PartSearchResult{
			Flag:       models.FlagSelectCategory,
			Categories: []string{"Front brake pads", "Rear brake pads"},
			SessionID:  "session-1",
		},
		links: map[string][]string{"Front brake pads": {"https://parts.example/front-1"}},
	}
	o := New(Config{Debounce: testDebounce}, vehicles, searcher, nil, nil)
	t.Cleanup(func() { o.Reset() })

	return o, vehicles, searcher
}

func typePlate(o *Orchestrator, plate string) {
	for i := 1; i <= len(plate); i++ {
		o.SetPlate(plate[:i])
	}
}

func TestOrchestrator_Debounce(t *testing.T) {
	t.Run("only last value looked up", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)

		typePlate(o, "HR312G")
		st, err := o.WaitVehicle(t.Context())

		require.NoError(t, err)
		require.Equal(t, []string{"HR312G"}, vehicles.Plates())
		require.Equal(t, StageReady, st.Stage)
		require.Equal(t, "VOLKSWAGEN", st.Vehicle.Brand)
	})

	t.Run("short plate never looked up", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)

		o.SetPlate("HR")
		_, err := o.WaitVehicle(t.Context())

		require.NoError(t, err)
		require.Empty(t, vehicles.Plates())
	})

	t.Run("shortening clears vehicle and cancels lookup", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)
		typePlate(o, "HR312G")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)

		o.SetPlate("HR312")
		st := o.SetPlate("HR")
		_, err = o.WaitVehicle(t.Context())

		require.NoError(t, err)
		require.Nil(t, st.Vehicle)
		require.Equal(t, []string{"HR312G"}, vehicles.Plates())
	})

	t.Run("quiet period respected", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)

		o.SetPlate("HR312G")

		require.Empty(t, vehicles.Plates(), "lookup must wait for the quiet period")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)
		require.Len(t, vehicles.Plates(), 1)
	})

	t.Run("stale answer ignored", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)
		vehicles.release = make(chan struct{})

		o.SetPlate("HR312G")
		require.Eventually(t, func() bool { return len(vehicles.Plates()) == 1 }, time.Second, 5*time.Millisecond)
		require.True(t, o.State().VehicleLoading)

		o.SetPlate("HR312")
		close(vehicles.release)
		st, err := o.WaitVehicle(t.Context())

		require.NoError(t, err)
		require.Nil(t, st.Vehicle, "answer for HR312G must not be applied to HR312")
		require.Equal(t, []string{"HR312G", "HR312"}, vehicles.Plates())
		require.Equal(t, MsgVehicleNotFound, st.VehicleError)
	})

	t.Run("wait honours context", func(t *testing.T) {
		o, vehicles, _ := newFakeOrchestrator(t)
		vehicles.release = make(chan struct{})
		t.Cleanup(func() { close(vehicles.release) })

		o.SetPlate("HR312G")
		ctx, cancel := context.WithTimeout(t.Context(), 2*testDebounce)
		defer cancel()

		_, err := o.WaitVehicle(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestOrchestrator_Submit(t *testing.T) {
	t.Run("vehicle still loading", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)
		o.SetPlate("HR312G")
		o.SetPart("Brake Pads")

		st, err := o.Submit(t.Context())

		require.ErrorIs(t, err, apperrors.ErrVehicleLoading)
		require.Equal(t, "Vehicle details are still loading. Please wait and try again.", st.Error)
		searches, _ := searcher.Calls()
		require.Zero(t, searches)
	})

	t.Run("required fields", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)

		st, err := o.Submit(t.Context())

		var fe apperrors.FieldErrors
		require.ErrorAs(t, err, &fe)
		require.Equal(t, MsgPlateRequired, fe.First("license_plate"))
		require.Equal(t, MsgPartRequired, st.PartError)
		searches, _ := searcher.Calls()
		require.Zero(t, searches)
	})

	t.Run("categories then links", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)
		typePlate(o, "HR312G")
		o.SetPart("Brake Pads")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)

		st, err := o.Submit(t.Context())

		require.NoError(t, err)
		require.Equal(t, StageSelectCategory, st.Stage)
		require.Equal(t, []string{"Front brake pads", "Rear brake pads"}, st.Categories)
		require.Equal(t, MsgSelectCategory, st.CategoryMessage)
		require.Equal(t, models.PartQuery{
			LicensePlate: "HR312G",
			PartName:     "Brake Pads",
			CarType:      "VOLKSWAGEN",
			CarModel:     "GOLF",
			CarModelType: "AU",
		}, searcher.queries[0])

		st, err = o.SelectCategory(t.Context(), "Front brake pads")

		require.NoError(t, err)
		require.Equal(t, StageResults, st.Stage)
		require.Equal(t, []string{"https://parts.example/front-1"}, st.Links)

		st, err = o.SelectCategory(t.Context(), "Rear brake pads")

		require.ErrorIs(t, err, apperrors.ErrNoCategoryLinks)
		require.Equal(t, MsgNoCategoryLinks, st.Error)
	})

	t.Run("success picks first category", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)
		searcher.result = models.PartSearchResult{
			Flag: models.FlagSuccess,
			Data: map[string][]string{
				"Rear brake pads":  {"https://rear"},
				"Front brake pads": {"https://front"},
			},
		}
		typePlate(o, "HR312G")
		o.SetPart("Brake Pads")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)

		st, err := o.Submit(t.Context())

		require.NoError(t, err)
		require.Equal(t, StageResults, st.Stage)
		require.Equal(t, "Front brake pads", st.SelectedCategory)
		require.Equal(t, []string{"https://front"}, st.Links)
	})

	t.Run("empty answer", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)
		searcher.result = models.PartSearchResult{}
		typePlate(o, "HR312G")
		o.SetPart("Brake Pads")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)

		st, err := o.Submit(t.Context())

		require.ErrorIs(t, err, apperrors.ErrNoPartInfo)
		require.Equal(t, MsgNoPartInfo, st.Error)
	})

	t.Run("rate limited", func(t *testing.T) {
		o, _, searcher := newFakeOrchestrator(t)
		searcher.err = &apperrors.RateLimitError{RetryAfter: 30 * time.Second}
		typePlate(o, "HR312G")
		o.SetPart("Brake Pads")
		_, err := o.WaitVehicle(t.Context())
		require.NoError(t, err)

		st, err := o.Submit(t.Context())

		require.ErrorIs(t, err, apperrors.ErrTooManyRequests)
		require.Equal(t, "Too many requests. Please wait a moment before searching again.", st.Error)
	})
}

func TestOrchestrator_SelectCategoryWithoutSession(t *testing.T) {
	o, _, searcher := newFakeOrchestrator(t)

	st, err := o.SelectCategory(t.Context(), "Front brake pads")

	require.ErrorIs(t, err, apperrors.ErrNoSearchSession)
	require.Equal(t, "Session expired. Please search again.", st.Error)
	_, categories := searcher.Calls()
	require.Zero(t, categories)
}

func TestOrchestrator_PartChangeAfterCategories(t *testing.T) {
	o, _, _ := newFakeOrchestrator(t)
	typePlate(o, "HR312G")
	o.SetPart("Brake Pads")
	_, err := o.WaitVehicle(t.Context())
	require.NoError(t, err)
	_, err = o.Submit(t.Context())
	require.NoError(t, err)
	_, err = o.SelectCategory(t.Context(), "Front brake pads")
	require.NoError(t, err)

	st := o.SetPart("Brake Disc")

	require.Empty(t, st.Categories)
	require.Empty(t, st.SelectedCategory)
	require.Empty(t, st.SessionID)
	require.Empty(t, st.Links)

	again := o.SetPart("Brake Disc")
	again.Search = st.Search
	require.Equal(t, st, again, "reset is idempotent")
}

func TestOrchestrator_Notifications(t *testing.T) {
	bus := events.New()
	var (
		mu     sync.Mutex
		direct []Stage
		onBus  []Stage
	)
	require.NoError(t, bus.Subscribe(events.TopicSearchState, func(s State) {
		mu.Lock()
		defer mu.Unlock()
		onBus = append(onBus, s.Stage)
	}))

	o := New(Config{Debounce: testDebounce}, &fakeVehicles{known: map[string]models.VehicleInfo{"HR312G": golf}}, &fakeSearch{}, bus, nil)
	unsubscribe := o.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		direct = append(direct, s.Stage)
	})

	o.SetPlate("HR312G")
	_, err := o.WaitVehicle(t.Context())
	require.NoError(t, err)
	unsubscribe()
	o.SetPart("Brake Pads")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Stage{StageIdle, StageVehicleLoading, StageReady}, direct)
	require.Equal(t, []Stage{StageIdle, StageVehicleLoading, StageReady, StageReady}, onBus)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.AddUser("mechanic@example.com", "brakepads1")
	registry := testutil.NewRegistry(t)
	registry.Add(testutil.BrakePadsCar)

	store := tokenstore.New(nil, nil)
	store.Set(t.Context(), backend.IssueAccess("mechanic@example.com"))
	api, err := apiclient.New(apiclient.Config{BaseURL: backend.URL()}, store)
	require.NoError(t, err)

	o := New(Config{Debounce: testDebounce},
		vehicle.NewClient(vehicle.Config{RegistryURL: registry.URL()}, nil),
		search.NewService(api, nil),
		nil, nil,
	)

	typePlate(o, "hr-312-g")
	o.SetPart("Brake Pads")
	st, err := o.WaitVehicle(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"HR312G"}, registry.Lookups())
	require.Equal(t, "hr312g", st.Plate)
	require.Equal(t, "GOLF", st.Vehicle.Model)

	t.Run("rate limited", func(t *testing.T) {
		backend.OnPartsSearch(func(map[string]string) (int, any) {
			return http.StatusTooManyRequests, map[string]any{"detail": "Request was throttled."}
		})
		t.Cleanup(func() { backend.OnPartsSearch(nil) })

		st, err := o.Submit(t.Context())

		require.ErrorIs(t, err, apperrors.ErrTooManyRequests)
		require.Equal(t, "Too many requests. Please wait a moment before searching again.", st.Error)
	})

	t.Run("category flow", func(t *testing.T) {
		st, err := o.Submit(t.Context())
		require.NoError(t, err)
		require.Equal(t, StageSelectCategory, st.Stage)
		require.Equal(t, "Multiple categories found, please select one", st.CategoryMessage)

		st, err = o.SelectCategory(t.Context(), "Rear brake pads")

		require.NoError(t, err)
		require.Equal(t, []string{"https://parts.example/rear-1"}, st.Links)
	})

	t.Run("expired search session", func(t *testing.T) {
		backend.OnPartsSearch(func(map[string]string) (int, any) {
			return http.StatusOK, map[string]any{
				"flag":       "select_category",
				"categories": []string{"Front brake pads"},
				"sessionId":  "gone",
			}
		})
		t.Cleanup(func() { backend.OnPartsSearch(nil) })

		_, err := o.Submit(t.Context())
		require.NoError(t, err)

		st, err := o.SelectCategory(t.Context(), "Front brake pads")

		require.Error(t, err)
		require.Equal(t, MsgCategoryFailed, st.Error)
		require.Equal(t, StageSelectCategory, st.Stage)
	})
}
