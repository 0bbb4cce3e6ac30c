// Package report renders office compliance for the command line.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"golang.org/x/sync/errgroup"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
)

// Result is the compliance of every office for one period.
type Result struct {
	Period  compliance.Period                  `json:"period"`
	Offices []compliance.OfficeComplianceStats `json:"offices"`
	Fleet   compliance.FleetSummary            `json:"fleet"`
}

// Build reads offices, vehicles and the period's tests and computes the report.
func Build(ctx context.Context, f dashboard.Fetcher, period compliance.Period) (*Result, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	var (
		vehicles []compliance.Vehicle
		offices  []compliance.Office
		tests    []compliance.EmissionTest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		vehicles, err = f.ListVehicles(gctx)
		return err
	})
	g.Go(func() (err error) {
		offices, err = f.ListOffices(gctx)
		return err
	})
	g.Go(func() (err error) {
		tests, err = f.ListTests(gctx, period.Year)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows, err := compliance.ComputeAll(compliance.ApplyLatestTests(vehicles, tests), offices, period)
	if err != nil {
		return nil, err
	}
	return &Result{
		Period:  period,
		Offices: rows,
		Fleet:   compliance.ComputeFleetSummary(rows),
	}, nil
}

// WriteTable prints one row per office followed by the fleet totals.
func (r *Result) WriteTable(w io.Writer) error {
	table := uitable.New()
	table.MaxColWidth = 40
	table.Separator = "  "

	table.AddRow("OFFICE", "VEHICLES", "TESTED", "COMPLIANT", "NON-COMPLIANT", "RATE")
	for _, o := range r.Offices {
		table.AddRow(o.OfficeName, o.TotalVehicles, o.TestedVehicles, o.CompliantVehicles, o.NonCompliantVehicles, rate(o.ComplianceRate))
	}
	table.AddRow("")
	table.AddRow(fmt.Sprintf("FLEET (%d offices)", r.Fleet.TotalOffices), r.Fleet.TotalVehicles, "", r.Fleet.TotalCompliant, "", rate(r.Fleet.OverallComplianceRate))
	for col := 1; col <= 5; col++ {
		table.RightAlign(col)
	}

	_, err := fmt.Fprintf(w, "Compliance %s\n\n%s\n", r.Period, table)
	return err
}

// WriteJSON prints the result as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func rate(f float64) string {
	return fmt.Sprintf("%.2f%%", f)
}
