package merge

import (
	"fmt"
	"io"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
)

// WriteReport writes the reconciliation summary followed by one block per
// conflict.
func WriteReport(w io.Writer, r domain.MergeReport) error {
	if _, err := fmt.Fprintf(w,
		"Total count of objects from source files: %d\n"+
			"Duplicate objects found: %d\n"+
			"Count of objects that are identical except for the geohashCenter: %d\n"+
			"Count of objects where 'geohashCenter' is duplicated but the other properties are not identical: %d\n"+
			"Unique objects written: %d\n",
		r.Total, r.ExactDuplicates, r.GeohashOnlyDuplicates, r.Mismatches, r.Unique,
	); err != nil {
		return err
	}

	if len(r.Conflicts) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\nConflicts (first record kept):\n"); err != nil {
		return err
	}
	for _, c := range r.Conflicts {
		if _, err := fmt.Fprintf(w, "  %s: kept %s from %s, rejected %s from %s\n",
			c.Key, describe(c.Kept), c.KeptSource, describe(c.Rejected), c.Source); err != nil {
			return err
		}
	}
	return nil
}

func describe(r domain.CellRecord) string {
	return fmt.Sprintf("%s (%.4f,%.4f)", r.Cell(), r.Latitude, r.Longitude)
}
