package compliance

import (
	"math"
	"sort"
)

// ComputeOfficeCompliance computes the compliance figures of office for the
// given period from the full, unfiltered vehicle list.
//
// A vehicle counts as tested only when its latest test falls inside the
// period; a vehicle tested in an earlier period reads as untested. This
// follows the latest-test denormalization and ignores older tests.
func ComputeOfficeCompliance(vehicles []Vehicle, office OfficeRef, period Period) (OfficeComplianceStats, error) {
	if err := period.Validate(); err != nil {
		return OfficeComplianceStats{}, err
	}
	if office.ID == "" {
		return OfficeComplianceStats{}, &ValidationError{Field: "office", Value: office.Name, Reason: "id is required"}
	}

	stats := OfficeComplianceStats{OfficeID: office.ID, OfficeName: office.Name}
	for i := range vehicles {
		v := &vehicles[i]
		if v.OfficeID != office.ID {
			continue
		}

		stats.TotalVehicles++
		passed, tested := testedIn(v, period)
		if !tested {
			continue
		}
		stats.TestedVehicles++
		if passed {
			stats.CompliantVehicles++
		}
	}

	stats.NonCompliantVehicles = stats.TestedVehicles - stats.CompliantVehicles
	stats.ComplianceRate = percent(stats.CompliantVehicles, stats.TotalVehicles)

	return stats, nil
}

// ComputeFleetSummary sums office stats. The result does not depend on the
// order of officeStats.
func ComputeFleetSummary(officeStats []OfficeComplianceStats) FleetSummary {
	summary := FleetSummary{TotalOffices: len(officeStats)}
	for _, s := range officeStats {
		summary.TotalVehicles += s.TotalVehicles
		summary.TotalCompliant += s.CompliantVehicles
	}
	summary.OverallComplianceRate = percent(summary.TotalCompliant, summary.TotalVehicles)
	return summary
}

// ComputeAll returns one stats row per office, ordered by office name then id.
// Vehicles assigned to an office that is not in offices are ignored.
func ComputeAll(vehicles []Vehicle, offices []Office, period Period) ([]OfficeComplianceStats, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	byOffice := make(map[string][]Vehicle, len(offices))
	for _, v := range vehicles {
		byOffice[v.OfficeID] = append(byOffice[v.OfficeID], v)
	}

	sorted := make([]Office, len(offices))
	copy(sorted, offices)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]OfficeComplianceStats, 0, len(sorted))
	for _, o := range sorted {
		stats, err := ComputeOfficeCompliance(byOffice[o.ID], o.Ref(), period)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// Evaluate wraps ComputeOfficeCompliance into the Compliance sum type.
func Evaluate(vehicles []Vehicle, office OfficeRef, period Period) Compliance {
	stats, err := ComputeOfficeCompliance(vehicles, office, period)
	if err != nil {
		return Unavailable{Reason: err.Error()}
	}
	return Computed{Stats: stats}
}

// ApplyLatestTests returns a copy of vehicles whose latest test fields are
// set from the most recent test in tests. Ties on the test date go to the
// larger test id. Vehicles without tests, or whose existing latest test is
// newer, keep their existing fields.
func ApplyLatestTests(vehicles []Vehicle, tests []EmissionTest) []Vehicle {
	latest := make(map[string]EmissionTest, len(tests))
	for _, t := range tests {
		cur, ok := latest[t.VehicleID]
		if !ok || t.TestDate.After(cur.TestDate) || (t.TestDate.Equal(cur.TestDate) && t.ID > cur.ID) {
			latest[t.VehicleID] = t
		}
	}

	out := make([]Vehicle, len(vehicles))
	for i, v := range vehicles {
		if t, ok := latest[v.ID]; ok && (v.LatestTestDate == nil || !t.TestDate.Before(*v.LatestTestDate)) {
			result := t.Result
			date := t.TestDate
			v.LatestTestResult = &result
			v.LatestTestDate = &date
		}
		out[i] = v
	}
	return out
}

// testedIn reports whether the vehicle's latest test falls inside period and
// whether it passed.
func testedIn(v *Vehicle, period Period) (passed, tested bool) {
	if v.LatestTestResult == nil || v.LatestTestDate == nil {
		return false, false
	}
	if !period.Contains(*v.LatestTestDate) {
		return false, false
	}
	return *v.LatestTestResult, true
}

// percent returns part/whole*100 rounded to two decimals, and 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
