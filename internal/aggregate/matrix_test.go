package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictyield/backend/internal/models"
)

func TestExportMatrix(t *testing.T) {
	h := failureHandler(t)

	m, err := h.ExportMatrix(ExportSettings{})
	require.NoError(t, err)
	assert.Len(t, m.Rows, 5)
	assert.Equal(t, []string{"a", "b"}, m.Columns)
	assert.Equal(t, "A1 P1#1 250101100000", m.Rows[0])
	assert.Equal(t, models.Cell{Outcome: models.OutcomeFail, Value: 1}, m.Cells[0][0])
	require.Len(t, m.Limits, 2)

	tr, err := h.ExportMatrix(ExportSettings{Orientation: TestsAsRows})
	require.NoError(t, err)
	assert.Equal(t, m.Columns, tr.Rows)
	assert.Equal(t, m.Rows, tr.Columns)
	for r := range m.Cells {
		for c := range m.Cells[r] {
			assert.Equal(t, m.Cells[r][c], tr.Cells[c][r])
		}
	}

	final, err := h.ExportMatrix(ExportSettings{FinalOnly: true})
	require.NoError(t, err)
	assert.Len(t, final.Rows, 3)

	failing, err := h.ExportMatrix(ExportSettings{FinalOnly: true, FailuresOnly: true, Selection: SelectFailed})
	require.NoError(t, err)
	assert.Len(t, failing.Rows, 3)
	assert.Equal(t, []string{"a", "b"}, failing.Columns)

	firstOnly, err := h.ExportMatrix(ExportSettings{FailuresOnly: true, Selection: SelectListed, Tests: []string{"b", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, firstOnly.Columns)
	assert.Len(t, firstOnly.Rows, 4)

	_, err = h.ExportMatrix(ExportSettings{Selection: Selection(42)})
	assert.Error(t, err)
	_, err = h.ExportMatrix(ExportSettings{Orientation: Orientation(7)})
	assert.Error(t, err)
}

func TestExportMatrix_Limits(t *testing.T) {
	h := statsHandler(t)
	m, err := h.ExportMatrix(ExportSettings{})
	require.NoError(t, err)
	assert.Equal(t, models.TwoSided(5, 0.5), m.Limits[0], "latest limit of the exported attempts")
	assert.Equal(t, models.Limit{}, m.Limits[1])
}
