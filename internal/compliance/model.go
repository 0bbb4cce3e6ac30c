package compliance

import "time"

// Vehicle is a government vehicle as returned by the API. The latest test
// fields are a denormalization of the most recent EmissionTest.
type Vehicle struct {
	ID          string `json:"id"`
	OfficeID    string `json:"office_id"`
	PlateNumber string `json:"plate_number"`
	DriverName  string `json:"driver_name,omitempty"`
	VehicleType string `json:"vehicle_type"`
	EngineType  string `json:"engine_type"`
	Wheels      int    `json:"wheels"`

	// LatestTestResult is nil when the vehicle was never tested.
	LatestTestResult *bool      `json:"latest_test_result"`
	LatestTestDate   *time.Time `json:"latest_test_date"`
}

// Office owns vehicles. Its compliance counts are always derived, never stored.
type Office struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Address       string `json:"address,omitempty"`
	ContactNumber string `json:"contact_number,omitempty"`
	Email         string `json:"email,omitempty"`
}

// OfficeRef identifies an office. ID is the join key; Name is only carried for display.
type OfficeRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ref returns the reference used to select this office's vehicles.
func (o Office) Ref() OfficeRef {
	return OfficeRef{ID: o.ID, Name: o.Name}
}

// EmissionTest is a single smoke/emission test of a vehicle.
type EmissionTest struct {
	ID             string    `json:"id"`
	VehicleID      string    `json:"vehicle_id"`
	Year           int       `json:"year"`
	Quarter        int       `json:"quarter"`
	TestDate       time.Time `json:"test_date"`
	Result         bool      `json:"result"`
	CO             *float64  `json:"co_level,omitempty"`
	HC             *float64  `json:"hc_level,omitempty"`
	Opacity        *float64  `json:"opacity_level,omitempty"`
	TechnicianName string    `json:"technician_name,omitempty"`
	TestingCenter  string    `json:"testing_center,omitempty"`
	Remarks        string    `json:"remarks,omitempty"`
}

// Period is a year, optionally narrowed to a quarter. Quarter 0 means the whole year.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter,omitempty"`
}

// OfficeComplianceStats holds the compliance figures of one office for a period.
// 0 <= CompliantVehicles <= TestedVehicles <= TotalVehicles always holds.
type OfficeComplianceStats struct {
	OfficeID             string  `json:"office_id"`
	OfficeName           string  `json:"office_name"`
	TotalVehicles        int     `json:"total_vehicles"`
	TestedVehicles       int     `json:"tested_vehicles"`
	CompliantVehicles    int     `json:"compliant_vehicles"`
	NonCompliantVehicles int     `json:"non_compliant_vehicles"`
	ComplianceRate       float64 `json:"compliance_rate"`
}

// FleetSummary aggregates office stats across the whole fleet.
type FleetSummary struct {
	TotalOffices          int     `json:"total_offices"`
	TotalVehicles         int     `json:"total_vehicles"`
	TotalCompliant        int     `json:"total_compliant"`
	OverallComplianceRate float64 `json:"overall_compliance_rate"`
}

// Compliance is either Unavailable or Computed. Switch on the concrete type
// instead of checking for zero values.
type Compliance interface {
	isCompliance()
}

// Unavailable is reported when figures cannot be computed, e.g. no data was
// ever loaded or the period is invalid.
type Unavailable struct {
	Reason string `json:"reason"`
}

// Computed carries the stats of a successful computation.
type Computed struct {
	Stats OfficeComplianceStats `json:"stats"`
}

func (Unavailable) isCompliance() {}
func (Computed) isCompliance()    {}
