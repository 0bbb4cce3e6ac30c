package dashboard

import (
	"time"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
)

// Source tells where the figures of a report came from.
type Source string

const (
	SourceLive        Source = "live"
	SourceCache       Source = "cache"
	SourceUnavailable Source = "unavailable"
)

// OfficeCompliance is the JSON form of compliance.Compliance for one office.
type OfficeCompliance struct {
	Office compliance.OfficeRef `json:"office"`

	// Status is "computed" or "unavailable".
	Status string                            `json:"status"`
	Stats  *compliance.OfficeComplianceStats `json:"stats,omitempty"`
	Reason string                            `json:"reason,omitempty"`
}

// NewOfficeCompliance flattens c for rendering.
func NewOfficeCompliance(office compliance.OfficeRef, c compliance.Compliance) OfficeCompliance {
	out := OfficeCompliance{Office: office}
	switch v := c.(type) {
	case compliance.Computed:
		stats := v.Stats
		out.Status = "computed"
		out.Stats = &stats
	case compliance.Unavailable:
		out.Status = "unavailable"
		out.Reason = v.Reason
	}
	return out
}

// Report is the dashboard view of one period.
type Report struct {
	Period  compliance.Period       `json:"period"`
	Offices []OfficeCompliance      `json:"offices"`
	Fleet   compliance.FleetSummary `json:"fleet"`
	Source  Source                  `json:"source"`

	// Stale is set when the report was served from the cache.
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`

	// Reason explains an unavailable report.
	Reason string `json:"reason,omitempty"`
}
