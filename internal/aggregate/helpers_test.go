package aggregate

import (
	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/models"
)

func pass(name string, v float64) models.Measurement {
	return models.Measurement{Name: name, Kind: models.KindVoltage, Outcome: models.OutcomePass, Value: v}
}

func fail(name string, v float64) models.Measurement {
	return models.Measurement{Name: name, Kind: models.KindVoltage, Outcome: models.OutcomeFail, Value: v}
}

func limited(m models.Measurement, lower, upper float64) models.Measurement {
	m.Limit = models.TwoSided(upper, lower)
	return m
}

// newLog builds a record whose pass flag and status follow its measurements.
func newLog(mainDMC string, index int, dmc string, start models.PackedTime, ms ...models.Measurement) *models.LogRecord {
	rec := &models.LogRecord{
		Source:       dmc + ".log",
		DMC:          dmc,
		MainDMC:      mainDMC,
		Product:      "PRODX",
		BoardIndex:   index,
		Start:        start,
		End:          start + 30,
		Measurements: ms,
	}
	if rec.HasFailure() {
		rec.Status = 1
	}
	rec.Passed = rec.Status == 0
	return rec
}

func testCatalog() *catalog.Catalog {
	return catalog.New(catalog.Product{
		ID:            "PRODX",
		Name:          "Controller X",
		MinFirmware:   "1.3.0",
		GoldenSamples: []string{"GOLD-1"},
	})
}

func names(ms []models.Measurement) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func testNames(tests []TestDescriptor) []string {
	out := make([]string, len(tests))
	for i, t := range tests {
		out[i] = t.Name
	}
	return out
}
