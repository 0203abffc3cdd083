// Package persist saves run output to the shared lead store. Each driver
// merges incoming leads against what the store already holds using the same
// identity key as in-run dedup, so re-running a search never duplicates a
// lead.
package persist

import (
	"strings"

	"github.com/sells-group/prospector/internal/dedupe"
	"github.com/sells-group/prospector/internal/model"
)

// Driver names accepted by persist.driver.
const (
	DriverXLSX       = "xlsx"
	DriverNotion     = "notion"
	DriverSalesforce = "salesforce"
	DriverNone       = "none"
)

// Drivers lists every supported driver name.
var Drivers = []string{DriverXLSX, DriverNotion, DriverSalesforce, DriverNone}

// ValidDriver reports whether name is a supported driver (case-insensitive).
func ValidDriver(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}

// result builds the PersistResult for a merge where created leads were
// written successfully.
func result(id string, m dedupe.MergeResult, created int) model.PersistResult {
	return model.PersistResult{
		Success: created == len(m.Added),
		ID:      id,
		Added:   created,
		Skipped: m.Skipped,
	}
}
