package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictyield/backend/internal/models"
)

const batchHeader = "{@BATCH|PRODX|A|FX1|1|i3070|ICT|B001|op|ctrl|tp1|1|PT|1|1.2.0\n"

// boardLog wraps board bodies into one batch. Each body is the content of a BTEST record.
func boardLog(bodies ...string) []byte {
	var sb strings.Builder
	sb.WriteString(batchHeader)
	for _, b := range bodies {
		sb.WriteString("{@BTEST|")
		sb.WriteString(b)
		sb.WriteString("}\n")
	}
	sb.WriteString("}\n")
	return []byte(sb.String())
}

func parseBoards(t *testing.T, data []byte) *models.ParsedFile {
	t.Helper()
	parsed, err := NewI3070Parser().ParseBytes("test.ict", data)
	require.NoError(t, err)
	return parsed
}

func measurementNames(rec *models.LogRecord) []string {
	out := make([]string, len(rec.Measurements))
	for i, m := range rec.Measurements {
		out[i] = m.Name
	}
	return out
}

func find(t *testing.T, rec *models.LogRecord, name string) models.Measurement {
	t.Helper()
	for _, m := range rec.Measurements {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("measurement %q not found in %v", name, measurementNames(rec))
	return models.Measurement{}
}

func TestExtract_Header(t *testing.T) {
	parsed := parseBoards(t, boardLog(
		"DMC001|0|250307213346|30|0|all|0|0|n|0||2|PANEL01\n{@PF|pins|0|120}",
	))
	require.Len(t, parsed.Records, 1)
	rec := parsed.Records[0]

	assert.Equal(t, "test.ict", rec.Source)
	assert.Equal(t, "DMC001", rec.DMC)
	assert.Equal(t, "PANEL01", rec.MainDMC)
	assert.Equal(t, "PRODX", rec.Product)
	assert.Equal(t, 2, rec.BoardIndex)
	assert.Equal(t, "1.2.0", rec.Version)
	assert.Equal(t, FormatI3070, rec.Format)
	assert.True(t, rec.Passed)
	assert.True(t, rec.MESEligible)
	assert.Equal(t, models.PackedTime(250307213346), rec.Start)
	// end derived from the duration when the header leaves it empty
	assert.Equal(t, models.PackedTime(250307213416), rec.End)
}

func TestExtract_HeaderDefaults(t *testing.T) {
	parsed := parseBoards(t, boardLog("DMC002|0|250307213346|30|1|all|0|1|n|250307213500||0|"))
	rec := parsed.Records[0]
	assert.Equal(t, "DMC002", rec.MainDMC, "main DMC falls back to the board DMC")
	assert.Equal(t, 1, rec.BoardIndex)
	assert.False(t, rec.MESEligible)
	assert.Equal(t, models.PackedTime(250307213500), rec.End)
}

func TestExtract_PinsSentinel(t *testing.T) {
	t.Run("placeholder without PF", func(t *testing.T) {
		rec := parseBoards(t, boardLog("D|0|250307213346|30|0|all|0|0|n|0||1|P\n{@PCHK|0|u1}")).Records[0]
		require.NotEmpty(t, rec.Measurements)
		assert.Equal(t, models.Placeholder(PinsTestName, models.KindPins), rec.Measurements[0])
	})

	t.Run("PF overwrites position zero", func(t *testing.T) {
		rec := parseBoards(t, boardLog("D|2|250307213346|30|0|all|0|0|n|0||1|P\n{@PCHK|0|u1}\n{@PF|pins|2|87{@PIN|12|14}}")).Records[0]
		m := rec.Measurements[0]
		assert.Equal(t, PinsTestName, m.Name)
		assert.Equal(t, models.OutcomeFail, m.Outcome)
		assert.Equal(t, 87.0, m.Value)
		assert.Contains(t, rec.Report, "pins failed: 12 14")
		assert.False(t, rec.Passed)
	})
}

func TestExtract_BlockNaming(t *testing.T) {
	body := "D|0|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@BLOCK|17%c617|0\n{@A-CAP|0|1.02E-07|c617{@LIM3|1.0E-07|1.1E-07|9.0E-08}}}\n" +
		"{@BLOCK|u5|0\n{@A-RES|0|1000|r1{@LIM2|1100|900}}\n{@A-RES|0|2000|3%r2{@LIM2|2200|1800}}\n{@TJET|0|14|u5%j1}}\n" +
		"{@BLOCK|u9|0}\n" +
		"{@A-IND|0|1.0E-06|l3}"
	rec := parseBoards(t, boardLog(body)).Records[0]

	assert.Equal(t, []string{"pins", "c617", "u5%r1", "u5%r2", "u5%j1", "u9", "l3"}, measurementNames(rec))

	c := find(t, rec, "c617")
	assert.Equal(t, models.KindCapacitance, c.Kind)
	assert.Equal(t, models.ThreeSided(1.0e-7, 1.1e-7, 9.0e-8), c.Limit)

	r2 := find(t, rec, "u5%r2")
	assert.Equal(t, 2000.0, r2.Value)
	assert.Equal(t, models.TwoSided(2200, 1800), r2.Limit)

	assert.Equal(t, models.KindTestJet, find(t, rec, "u5%j1").Kind)
	assert.Equal(t, models.OutcomePass, find(t, rec, "u9").Outcome, "empty block reports itself")
	assert.Equal(t, models.KindInductance, find(t, rec, "l3").Kind)
}

func TestExtract_DigitalCoalescing(t *testing.T) {
	body := "D|7|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@BLOCK|u7|7\n{@D-T|0|0|0|24|u7}\n{@D-T|7|2|17|24|u7}\n{@D-T|0|0|0|24|u7}}\n" +
		"{@BLOCK|u8|0\n{@BS-CON|u8|0|0|0}\n{@BS-CON|u8|0|0|0}}"
	rec := parseBoards(t, boardLog(body)).Records[0]

	assert.Equal(t, []string{"pins", "u7", "u8"}, measurementNames(rec))
	u7 := find(t, rec, "u7")
	assert.Equal(t, models.OutcomeFail, u7.Outcome, "a later pass does not clear the failure")
	assert.Equal(t, 17.0, u7.Value)
	assert.Equal(t, models.OutcomePass, find(t, rec, "u8").Outcome)
}

func TestExtract_CoalescingKeepsAnalogRow(t *testing.T) {
	body := "D|7|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@BLOCK|u9|7\n{@A-RES|0|1.0E+3}\n{@D-T|7|2|17|24|u9}\n{@D-T|0|0|0|24|u9}}"
	rec := parseBoards(t, boardLog(body)).Records[0]

	require.Len(t, rec.Measurements, 3)
	analog, digital := rec.Measurements[1], rec.Measurements[2]
	assert.Equal(t, "u9", analog.Name)
	assert.Equal(t, models.KindResistance, analog.Kind)
	assert.Equal(t, models.OutcomePass, analog.Outcome)
	assert.Equal(t, 1000.0, analog.Value)
	assert.Equal(t, "u9", digital.Name)
	assert.Equal(t, models.KindDigital, digital.Kind)
	assert.Equal(t, models.OutcomeFail, digital.Outcome)
	assert.Equal(t, 17.0, digital.Value)
}

func TestExtract_ShortsOverride(t *testing.T) {
	body := "D|0|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@TS|0|1|0|0|shorts{@TS-S|n1{@TS-D|n2|2.5}}}"
	rec := parseBoards(t, boardLog(body)).Records[0]

	s := find(t, rec, "shorts")
	assert.Equal(t, models.KindShorts, s.Kind)
	assert.Equal(t, models.OutcomeFail, s.Outcome)
	assert.Equal(t, 1.0, s.Value)
	assert.Contains(t, rec.Report, "short from n1")
	assert.Contains(t, rec.Report, "to n2 (2.5 ohm)")

	// passing status with a failing measurement downgrades the board
	assert.Equal(t, 1, rec.Status)
	assert.False(t, rec.Passed)
}

func TestExtract_Telemetry(t *testing.T) {
	body := "D|0|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@PROG_TIME|12.5}\n{@PS_VI|1|3300|150}\n{@FW_VER|2.1.0}\n{@PS_VI|2|oops|1}"
	parsed := parseBoards(t, boardLog(body))
	rec := parsed.Records[0]

	assert.Equal(t, []string{"pins", "Programming_time", "PS1_voltage", "PS1_current"}, measurementNames(rec))
	assert.Equal(t, models.KindTime, find(t, rec, "Programming_time").Kind)
	assert.InDelta(t, 12.5, find(t, rec, "Programming_time").Value, 1e-9)
	v := find(t, rec, "PS1_voltage")
	assert.Equal(t, models.KindVoltage, v.Kind)
	assert.InDelta(t, 3.3, v.Value, 1e-9)
	assert.InDelta(t, 0.15, find(t, rec, "PS1_current").Value, 1e-9)
	assert.Equal(t, "2.1.0", rec.Version)

	require.Len(t, parsed.Errors, 1)
	assert.Contains(t, parsed.Errors[0].Reason, "PS_VI voltage")
}

func TestExtract_StatusDiagnostic(t *testing.T) {
	rec := parseBoards(t, boardLog("D|4|250307213346|30|0|all|0|0|n|0||1|P\n{@PF|pins|0|10}")).Records[0]

	last := rec.Measurements[len(rec.Measurements)-1]
	assert.Equal(t, "Status_code:4_-_Shorts_failed", last.Name)
	assert.Equal(t, models.KindDiagnostic, last.Kind)
	assert.Equal(t, models.OutcomeFail, last.Outcome)
	assert.Equal(t, 4, rec.Status)
	assert.False(t, rec.Passed)

	assert.Equal(t, "Status_code:99_-_Unknown_status", StatusDiagnosticName(99))
}

// Every extracted record satisfies: status != 0 iff some measurement failed.
func TestExtract_StatusInvariant(t *testing.T) {
	bodies := []string{
		"A|0|250307213346|30|0|all|0|0|n|0||1|P\n{@PF|pins|0|10}",
		"B|3|250307213346|30|0|all|0|0|n|0||2|P\n{@PF|pins|0|10}",
		"C|0|250307213346|30|0|all|0|0|n|0||3|P\n{@PCHK|1|u1}",
		"E|5|250307213346|30|0|all|0|0|n|0||4|P\n{@A-RES|1|5|r1{@LIM2|2|1}}",
	}
	parsed := parseBoards(t, boardLog(bodies...))
	require.Len(t, parsed.Records, 4)
	for _, rec := range parsed.Records {
		assert.Equal(t, rec.Status != 0, rec.HasFailure(), rec.DMC)
		assert.Equal(t, rec.Status == 0, rec.Passed, rec.DMC)
		assert.NotEmpty(t, rec.Measurements)
	}
}

func TestExtract_ReportAndIndict(t *testing.T) {
	body := "D|5|250307213346|30|0|all|0|0|n|0||1|P\n" +
		"{@A-RES|1|5|r1{@LIM2|2|1}}\n{@RPT|r1 out of range}\n{@INDICT|analog|r1|r2}"
	rec := parseBoards(t, boardLog(body)).Records[0]
	assert.Equal(t, "r1 out of range\nindict analog: r1 r2", rec.Report)
}

func TestExtract_DroppedBoards(t *testing.T) {
	data := boardLog(
		"GOOD|0|250307213346|30|0|all|0|0|n|0||1|P\n{@PF|pins|0|10}",
		"BAD|0|nope|30|0|all|0|0|n|0||2|P",
		"|0|250307213346|30|0|all|0|0|n|0||3|P",
	)
	parsed := parseBoards(t, data)
	require.Len(t, parsed.Records, 1)
	assert.Equal(t, "GOOD", parsed.Records[0].DMC)
	assert.Len(t, parsed.Errors, 2)
}

func TestExtract_BoardOutsideBatch(t *testing.T) {
	_, err := NewI3070Parser().ParseBytes("x", []byte("{@BTEST|D|0|250307213346|30|0|all|0|0|n|0||1|P}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRecords)

	records, errs := ExtractBatch(&Node{Record: &BlockRecord{}}, "x")
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, "missing BATCH header", errs[0].Reason)

	records, errs = ExtractBatch(&Node{Record: &BatchRecord{Product: "P"}}, "x")
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, "missing BTEST header", errs[0].Reason)
}

func TestStripPosition(t *testing.T) {
	assert.Equal(t, "c617", StripPosition("17%c617"))
	assert.Equal(t, "r1", StripPosition("r1"))
	assert.Equal(t, "j1", StripPosition("a%b%j1"))
}
