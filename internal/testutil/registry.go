package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// RegistryRecord is a raw vehicle record as the open data registry returns it
type RegistryRecord struct {
	Kenteken           string `json:"kenteken"`
	Merk               string `json:"merk"`
	Handelsbenaming    string `json:"handelsbenaming"`
	DatumEersteToelaDt string `json:"datum_eerste_toelating_dt"`
	EersteKleur        string `json:"eerste_kleur"`
	Brandstof          string `json:"brandstof,omitempty"`
	Type               string `json:"type"`
}

// Registry is a fake vehicle registry answering GET /?kenteken=PLATE
type Registry struct {
	Server *httptest.Server

	mu       sync.Mutex
	vehicles map[string]RegistryRecord
	lookups  []string
	delay    time.Duration
	status   int
}

func NewRegistry(t *testing.T) *Registry {
	t.Helper()

	reg := &Registry{vehicles: map[string]RegistryRecord{}}
	reg.Server = httptest.NewServer(http.HandlerFunc(reg.serve))
	t.Cleanup(reg.Server.Close)

	return reg
}

func (reg *Registry) URL() string {
	return reg.Server.URL + "/resource/m9d7-ebf2.json"
}

func (reg *Registry) Add(rec RegistryRecord) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.vehicles[strings.ToUpper(rec.Kenteken)] = rec
}

// Lookups returns the plates queried so far, in order
func (reg *Registry) Lookups() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return append([]string(nil), reg.lookups...)
}

// Delay slows every answer down
func (reg *Registry) Delay(d time.Duration) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.delay = d
}

// FailWith makes every answer use the status code; 0 restores normal answers
func (reg *Registry) FailWith(status int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.status = status
}

func (reg *Registry) serve(w http.ResponseWriter, r *http.Request) {
	plate := r.URL.Query().Get("kenteken")

	reg.mu.Lock()
	reg.lookups = append(reg.lookups, plate)
	delay, status := reg.delay, reg.status
	rec, ok := reg.vehicles[strings.ToUpper(plate)]
	reg.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"registry unavailable"}`))
		return
	}

	records := []RegistryRecord{}
	if ok {
		records = append(records, rec)
	}
	_ = json.NewEncoder(w).Encode(records)
}

// BrakePadsCar is a complete record used across tests
var BrakePadsCar = RegistryRecord{
	Kenteken:           "HR312G",
	Merk:               "VOLKSWAGEN",
	Handelsbenaming:    "GOLF",
	DatumEersteToelaDt: "2015-03-20T00:00:00.000",
	EersteKleur:        "GRIJS",
	Brandstof:          "Benzine",
	Type:               "AU",
}
