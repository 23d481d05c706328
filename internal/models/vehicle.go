package models

// VehicleInfo is what the registry knows about a plate
type VehicleInfo struct {
	Plate     string `json:"plate"`
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	BuildYear int    `json:"buildYear"`
	Color     string `json:"color"`
	FuelType  string `json:"fuelType"`
	CarType   string `json:"car_type"`
}

// Complete reports whether the vehicle has everything a part search needs
func (v *VehicleInfo) Complete() bool {
	return v != nil && v.Brand != "" && v.Model != "" && v.CarType != ""
}
