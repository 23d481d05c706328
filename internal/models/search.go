package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcomes of a part search
const (
	FlagSelectCategory = "select_category"
	FlagSuccess        = "success"
)

// PartQuery is the body of a part search request.
// The backend names are off by one level: car_type is the brand, car_model the model and car_model_type the registry type.
type PartQuery struct {
	LicensePlate string `json:"license_plate" validate:"required,plate"`
	PartName     string `json:"part_name" validate:"required"`
	CarType      string `json:"car_type"`
	CarModel     string `json:"car_model"`
	CarModelType string `json:"car_model_type"`
}

// PartSearchResult is the backend answer to a part search.
// Either Categories+SessionID (select_category) or Data (success) is set.
type PartSearchResult struct {
	Flag       string              `json:"flag"`
	Categories []string            `json:"categories,omitempty"`
	SessionID  string              `json:"sessionId,omitempty"`
	Data       map[string][]string `json:"data,omitempty"`
	Message    string              `json:"message,omitempty"`
}

type CategoryQuery struct {
	SessionID string `json:"session_id"`
	Category  string `json:"category"`
}

type CategoryData struct {
	Links []string `json:"links"`
}

// SearchResultGroup aggregates the results stored for one search
type SearchResultGroup struct {
	SearchResultID  int64     `json:"search_result_id"`
	Count           int       `json:"count"`
	LatestCreatedAt time.Time `json:"latest_created_at"`
}

// SearchResultItem is one offer found on one website
type SearchResultItem struct {
	WebsiteSearchID int64           `json:"website_search_id"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	URL             string          `json:"url"`
}

// HistoryEntry is a result group together with its items
type HistoryEntry struct {
	Group SearchResultGroup
	Items []SearchResultItem
}
