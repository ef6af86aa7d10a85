package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Board describes one functional-test attempt rendered by CSVLog.
type Board struct {
	Product string
	DMC     string
	Panel   string
	Index   int
	Start   string // "YYYY-MM-DD HH:MM:SS"
	Version string
	// Rows are "name,value,unit,lower,upper,nominal,result" lines.
	Rows []string
}

// CSVLog renders b as a functional tester CSV export.
func CSVLog(b Board) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#DMC,%s\n#PANEL,%s\n#PRODUCT,%s\n#INDEX,%d\n#START,%s\n#STATUS,0\n", b.DMC, b.Panel, b.Product, b.Index, b.Start)
	if b.Version != "" {
		fmt.Fprintf(&sb, "#VERSION,%s\n", b.Version)
	}
	sb.WriteString("Name,Value,Unit,Lower,Upper,Nominal,Result\n")
	for _, r := range b.Rows {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SupplyRows returns a VCC/ICC pair, VCC limited to [3.2, 3.4] V.
func SupplyRows(vcc string) []string {
	return []string{
		"VCC," + vcc + ",V,3.2,3.4,,",
		"ICC,0.15,A,0.1,0.2,,",
	}
}

// WriteFile writes content to dir/name.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// PanelFixture is a two-board panel P1 of product PRODX where board 2 fails VCC at 10:00
// and passes its retest at 10:20, plus a board of another product.
func PanelFixture(t testing.TB, dir string) []string {
	t.Helper()
	return []string{
		WriteFile(t, dir, "b1.csv", CSVLog(Board{Product: "PRODX", DMC: "B1", Panel: "P1", Index: 1, Start: "2025-01-01 10:00:00", Version: "1.4.0", Rows: SupplyRows("3.30")})),
		WriteFile(t, dir, "b2.csv", CSVLog(Board{Product: "PRODX", DMC: "B2", Panel: "P1", Index: 2, Start: "2025-01-01 10:00:00", Version: "1.4.0", Rows: SupplyRows("3.90")})),
		WriteFile(t, dir, "b2r.csv", CSVLog(Board{Product: "PRODX", DMC: "B2", Panel: "P1", Index: 2, Start: "2025-01-01 10:20:00", Version: "1.4.0", Rows: SupplyRows("3.31")})),
		WriteFile(t, dir, "other.csv", CSVLog(Board{Product: "PRODY", DMC: "Y1", Panel: "PY", Index: 1, Start: "2025-01-01 10:30:00", Version: "1.4.0", Rows: SupplyRows("3.30")})),
	}
}
