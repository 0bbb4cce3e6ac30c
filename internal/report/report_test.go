package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
)

type fakeFetcher struct {
	vehicles []compliance.Vehicle
	offices  []compliance.Office
	tests    []compliance.EmissionTest
	err      error
	year     int
}

func (f *fakeFetcher) ListVehicles(context.Context) ([]compliance.Vehicle, error) {
	return f.vehicles, f.err
}

func (f *fakeFetcher) ListOffices(context.Context) ([]compliance.Office, error) {
	return f.offices, nil
}

func (f *fakeFetcher) ListTests(_ context.Context, year int) ([]compliance.EmissionTest, error) {
	f.year = year
	return f.tests, nil
}

// cityHall has 10 vehicles, 6 tested in Q1 2025 of which 5 passed.
func cityHall() *fakeFetcher {
	f := &fakeFetcher{offices: []compliance.Office{{ID: "o1", Name: "City Hall"}}}
	date := time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)
	for i := range 10 {
		id := fmt.Sprintf("v%d", i)
		f.vehicles = append(f.vehicles, compliance.Vehicle{ID: id, OfficeID: "o1"})
		if i < 6 {
			f.tests = append(f.tests, compliance.EmissionTest{ID: "t" + id, VehicleID: id, TestDate: date, Result: i < 5})
		}
	}
	return f
}

func TestBuildCityHall(t *testing.T) {
	f := cityHall()

	r, err := Build(context.Background(), f, compliance.Period{Year: 2025, Quarter: 1})
	require.NoError(t, err)

	assert.Equal(t, 2025, f.year)
	require.Len(t, r.Offices, 1)
	assert.Equal(t, 10, r.Offices[0].TotalVehicles)
	assert.Equal(t, 6, r.Offices[0].TestedVehicles)
	assert.Equal(t, 5, r.Offices[0].CompliantVehicles)
	assert.Equal(t, 50.0, r.Offices[0].ComplianceRate)
	assert.Equal(t, 1, r.Fleet.TotalOffices)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(context.Background(), cityHall(), compliance.Period{Year: 2025, Quarter: 7})
	var verr *compliance.ValidationError
	assert.ErrorAs(t, err, &verr)

	boom := errors.New("boom")
	_, err = Build(context.Background(), &fakeFetcher{err: boom}, compliance.Period{Year: 2025})
	assert.ErrorIs(t, err, boom)
}

func TestWriteTable(t *testing.T) {
	r, err := Build(context.Background(), cityHall(), compliance.Period{Year: 2025, Quarter: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteTable(&buf))

	out := buf.String()
	assert.Contains(t, out, "Compliance 2025-Q1")
	assert.Contains(t, out, "City Hall")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "FLEET (1 offices)")
}

func TestWriteJSON(t *testing.T) {
	r, err := Build(context.Background(), cityHall(), compliance.Period{Year: 2025, Quarter: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var got Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, *r, got)
}
