package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/models"
)

func sampleMatrix() *aggregate.Matrix {
	return &aggregate.Matrix{
		Orientation: aggregate.LogsAsRows,
		Rows:        []string{"B1 P1#1 250101100000", "B2 P1#2 250101100000"},
		Columns:     []string{"vcc", "icc"},
		Cells: [][]models.Cell{
			{{Outcome: models.OutcomePass, Value: 3.3}, {Outcome: models.OutcomePass, Value: 0.15}},
			{{Outcome: models.OutcomeFail, Value: 3.9}, {Empty: true}},
		},
		Limits: []models.Limit{models.ThreeSided(3.3, 3.4, 3.2), models.TwoSided(0.2, 0.1)},
	}
}

func TestEncodeXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeXLSX(&buf, sampleMatrix()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{resultsSheet, limitsSheet}, f.GetSheetList())

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Attempt", "vcc", "icc"}, rows[0])
	assert.Equal(t, []string{"B1 P1#1 250101100000", "3.3", "0.15"}, rows[1])
	assert.Equal(t, []string{"B2 P1#2 250101100000", "3.9"}, rows[2], "placeholder cells stay empty")

	headerStyle, err := f.GetCellStyle(resultsSheet, "B1")
	require.NoError(t, err)
	style, err := f.GetStyle(headerStyle)
	require.NoError(t, err)
	assert.True(t, style.Font.Bold)

	passStyle, err := f.GetCellStyle(resultsSheet, "B2")
	require.NoError(t, err)
	failStyle, err := f.GetCellStyle(resultsSheet, "B3")
	require.NoError(t, err)
	assert.NotEqual(t, passStyle, failStyle)
	fail, err := f.GetStyle(failStyle)
	require.NoError(t, err)
	require.Len(t, fail.Fill.Color, 1)
	assert.Contains(t, strings.ToUpper(fail.Fill.Color[0]), strings.TrimPrefix(failFill, "#"))

	limits, err := f.GetRows(limitsSheet)
	require.NoError(t, err)
	require.Len(t, limits, 3)
	assert.Equal(t, []string{"vcc", "3.2", "3.4", "3.3"}, limits[1])
	assert.Equal(t, []string{"icc", "0.1", "0.2"}, limits[2])
}

func TestEncodeXLSX_TestsAsRows(t *testing.T) {
	m := &aggregate.Matrix{
		Orientation: aggregate.TestsAsRows,
		Rows:        []string{"vcc"},
		Columns:     []string{"B1 P1#1 250101100000"},
		Cells:       [][]models.Cell{{{Outcome: models.OutcomePass, Value: 3.3}}},
		Limits:      []models.Limit{{}},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeXLSX(&buf, m))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	assert.Equal(t, "Test", rows[0][0])
	limits, err := f.GetRows(limitsSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"vcc"}, limits[1])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, WriteXLSX(path, sampleMatrix()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(resultsSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "0.15", v)
}

func TestMsgpackRoundTrip(t *testing.T) {
	in := sampleMatrix()
	var buf bytes.Buffer
	require.NoError(t, EncodeMsgpack(&buf, in))

	out, err := DecodeMsgpack(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("matrix mismatch (-want +got):\n%s", diff)
	}
}
