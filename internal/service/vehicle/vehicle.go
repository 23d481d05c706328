package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/models"
)

const (
	DefaultRegistryURL = "https://opendata.rdw.nl/resource/m9d7-ebf2.json"

	defaultTimeout = 10 * time.Second
)

// record is the subset of the registry fields we map
type record struct {
	Kenteken        string `json:"kenteken"`
	Merk            string `json:"merk"`
	Handelsbenaming string `json:"handelsbenaming"`
	FirstAdmission  string `json:"datum_eerste_toelating_dt"`
	EersteKleur     string `json:"eerste_kleur"`
	Brandstof       string `json:"brandstof"`
	Type            string `json:"type"`
}

type Config struct {
	RegistryURL string
	Timeout     time.Duration
}

// Client queries the public vehicle registry. No credentials are involved,
// so it does not go through the backend client.
type Client struct {
	registryURL string
	timeout     time.Duration

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	if cfg.RegistryURL == "" {
		cfg.RegistryURL = DefaultRegistryURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		registryURL: cfg.RegistryURL,
		timeout:     cfg.Timeout,
		client:      &http.Client{},
		logger:      l,
	}
}

// Lookup returns vehicle attributes for the plate.
// Empty answer gives apperrors.ErrVehicleNotFound; transport or decode problems are wrapped as is.
func (c *Client) Lookup(ctx context.Context, plate string) (models.VehicleInfo, error) {
	var info models.VehicleInfo

	plate = NormalizePlate(plate)
	if plate == "" {
		return info, apperrors.ErrVehicleNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.registryURL + "?" + url.Values{"kenteken": {plate}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return info, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return info, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Vehicle registry failed", "status_code", resp.StatusCode, "plate", plate)
		return info, fmt.Errorf("registry answered %d for plate %s", resp.StatusCode, plate)
	}

	var records []record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return info, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(records) == 0 {
		c.logger.Debug("Vehicle not found", "plate", plate)
		return info, apperrors.ErrVehicleNotFound
	}

	info = toVehicleInfo(records[0])
	c.logger.Debug("Vehicle found", "plate", info.Plate, "brand", info.Brand, "model", info.Model)
	return info, nil
}

func toVehicleInfo(r record) models.VehicleInfo {
	return models.VehicleInfo{
		Plate:     r.Kenteken,
		Brand:     r.Merk,
		Model:     r.Handelsbenaming,
		BuildYear: buildYear(r.FirstAdmission),
		Color:     r.EersteKleur,
		FuelType:  r.Brandstof,
		CarType:   r.Type,
	}
}

var admissionLayouts = []string{
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	"2006-01-02",
	"20060102",
}

// buildYear takes the year of the first admission date; 0 if unknown
func buildYear(value string) int {
	value = strings.TrimSpace(value)
	for _, layout := range admissionLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Year()
		}
	}

	if len(value) >= 4 {
		if year, err := strconv.Atoi(value[:4]); err == nil {
			return year
		}
	}
	return 0
}
