package normalize

import (
	"time"

	"github.com/sells-group/screening-sync/internal/dataset"
)

var fixedNow = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }

// tableOf builds a table whose rows are given as header->value maps.
func tableOf(header []string, rows ...map[string]string) *dataset.Table {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, len(header))
		for i, h := range header {
			row[i] = r[h]
		}
		out = append(out, row)
	}
	return dataset.NewTable(header, out)
}
