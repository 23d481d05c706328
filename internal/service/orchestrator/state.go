package orchestrator

import (
	"slices"
	"strings"

	"github.com/nkiryanov/partsearch/internal/models"
	"github.com/nkiryanov/partsearch/internal/service/validate"
	"github.com/nkiryanov/partsearch/internal/service/vehicle"
)

// Messages shown to the user
const (
	MsgPlateRequired      = "License plate is required"
	MsgPartRequired       = "Part name is required"
	MsgVehicleLoading     = "Vehicle details are still loading. Please wait and try again."
	MsgVehicleNotFound    = "Vehicle not found for this license plate"
	MsgVehicleFetchFailed = "Failed to fetch vehicle information"
	MsgSessionExpired     = "Session expired. Please search again."
	MsgNoPartInfo         = "No part information found. Please try again."
	MsgNoCategoryLinks    = "Failed to retrieve links for the selected category. Please try again."
	MsgCategoryFailed     = "Failed to fetch category data. Please try again."
	MsgSelectCategory     = "Please select a category"
)

// Plates shorter than this are not looked up
const minLookupLength = 3

type Stage int

const (
	StageIdle Stage = iota
	StageVehicleLoading
	StageReady
	StageSearching
	StageSelectCategory
	StageLoadingCategory
	StageResults
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageVehicleLoading:
		return "vehicle-loading"
	case StageReady:
		return "ready"
	case StageSearching:
		return "searching"
	case StageSelectCategory:
		return "select-category"
	case StageLoadingCategory:
		return "loading-category"
	case StageResults:
		return "results"
	default:
		return "unknown"
	}
}

// State is everything the search form shows. It is a value: Reduce never mutates its input.
type State struct {
	Stage Stage

	Plate      string
	PlateError string
	PartName   string
	PartError  string

	Vehicle        *models.VehicleInfo
	VehicleLoading bool
	VehicleError   string

	Categories       []string
	CategoryMessage  string
	SelectedCategory string
	SessionID        string
	Links            []string

	// Last search failure
	Error string

	// Search generation. Answers tagged with another generation are stale.
	Search int
}

// Event is an input to Reduce
type Event interface {
	event()
}

type (
	// PlateChanged carries the plate as typed; Reduce sanitizes it
	PlateChanged struct{ Raw string }

	PartChanged struct{ Name string }

	VehicleLookupStarted struct{ Plate string }

	VehicleResolved struct {
		Plate   string
		Vehicle models.VehicleInfo
	}

	VehicleFailed struct {
		Plate   string
		Message string
	}

	// SearchStarted validates the form and, if it passes, opens a new search generation
	SearchStarted struct{}

	SearchFailed struct {
		Search  int
		Message string
	}

	CategoriesReceived struct {
		Search     int
		Categories []string
		SessionID  string
		Message    string
	}

	LinksReceived struct {
		Search   int
		Category string
		Links    []string
	}

	CategorySelected struct{ Category string }

	CategoryFailed struct {
		Search  int
		Message string
	}

	Reset struct{}
)

func (PlateChanged) event()         {}
func (PartChanged) event()          {}
func (VehicleLookupStarted) event() {}
func (VehicleResolved) event()      {}
func (VehicleFailed) event()        {}
func (SearchStarted) event()        {}
func (SearchFailed) event()         {}
func (CategoriesReceived) event()   {}
func (LinksReceived) event()        {}
func (CategorySelected) event()     {}
func (CategoryFailed) event()       {}
func (Reset) event()                {}

// Reduce returns the state after ev
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case PlateChanged:
		plate, changed := vehicle.SanitizePlate(ev.Raw)
		s.PlateError = ""
		if changed {
			s.PlateError = validate.InvalidPlateMessage
		}
		if plate != s.Plate {
			s.Plate = plate
			// vehicle data belongs to the previous plate
			s.Vehicle = nil
			s.VehicleLoading = false
			s.VehicleError = ""
		}

	case PartChanged:
		s.PartName = ev.Name
		s.PartError = ""
		s = clearSearch(s)
		if s.Stage >= StageSearching {
			s.Stage = StageIdle
		}
		// whatever is in flight was asked for another part
		s.Search++

	case VehicleLookupStarted:
		if ev.Plate != s.Plate {
			return s
		}
		s.VehicleLoading = true
		s.VehicleError = ""

	case VehicleResolved:
		if ev.Plate != s.Plate {
			return s
		}
		v := ev.Vehicle
		s.Vehicle = &v
		s.VehicleLoading = false
		s.VehicleError = ""

	case VehicleFailed:
		if ev.Plate != s.Plate {
			return s
		}
		s.Vehicle = nil
		s.VehicleLoading = false
		s.VehicleError = ev.Message

	case SearchStarted:
		s.PlateError = ""
		s.PartError = ""
		if strings.TrimSpace(s.Plate) == "" {
			s.PlateError = MsgPlateRequired
		}
		if strings.TrimSpace(s.PartName) == "" {
			s.PartError = MsgPartRequired
		}
		if s.PlateError != "" || s.PartError != "" {
			return settle(s)
		}

		s = clearSearch(s)
		s.Search++
		s.Stage = StageSearching

		if !s.Vehicle.Complete() {
			s.Stage = StageIdle
			s.Error = MsgVehicleLoading
			if s.VehicleError == MsgVehicleNotFound {
				s.Error = MsgVehicleNotFound
			}
		}

	case SearchFailed:
		if ev.Search != s.Search {
			return s
		}
		s.Error = ev.Message
		s.Stage = StageIdle

	case CategoriesReceived:
		if ev.Search != s.Search {
			return s
		}
		s.Categories = slices.Clone(ev.Categories)
		s.SessionID = ev.SessionID
		s.CategoryMessage = ev.Message
		if s.CategoryMessage == "" {
			s.CategoryMessage = MsgSelectCategory
		}
		s.Stage = StageSelectCategory

	case LinksReceived:
		if ev.Search != s.Search {
			return s
		}
		s.SelectedCategory = ev.Category
		s.Links = slices.Clone(ev.Links)
		s.Error = ""
		s.Stage = StageResults

	case CategorySelected:
		s.SelectedCategory = ev.Category
		s.Error = ""
		s.Stage = StageLoadingCategory

	case CategoryFailed:
		if ev.Search != s.Search {
			return s
		}
		s.Error = ev.Message
		s.Stage = StageIdle
		if len(s.Categories) > 0 {
			s.Stage = StageSelectCategory
		}

	case Reset:
		s = State{Search: s.Search + 1}
	}

	return settle(s)
}

// clearSearch drops everything produced by a previous search
func clearSearch(s State) State {
	s.Categories = nil
	s.CategoryMessage = ""
	s.SelectedCategory = ""
	s.SessionID = ""
	s.Links = nil
	s.Error = ""
	return s
}

// settle derives the stage from vehicle data while no search is running
func settle(s State) State {
	if s.Stage >= StageSearching {
		return s
	}

	switch {
	case s.VehicleLoading:
		s.Stage = StageVehicleLoading
	case s.Vehicle.Complete():
		s.Stage = StageReady
	default:
		s.Stage = StageIdle
	}
	return s
}

// lookupWanted reports whether the plate is long enough to be looked up
func lookupWanted(plate string) bool {
	return len(plate) >= minLookupLength
}
