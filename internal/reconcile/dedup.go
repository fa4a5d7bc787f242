package reconcile

import (
	"github.com/sells-group/screening-sync/internal/model"
)

// Result is the outcome of reconciling one normalized batch.
type Result struct {
	// Complete rows are ready for submission.
	Complete []model.Record
	// Incomplete rows failed the completeness check, staged or not.
	Incomplete []model.Record
	// NewStaged are the incomplete rows not already awaiting review.
	NewStaged []model.Record

	AlreadySubmitted int
	Duplicates       int
	// Deduplicated is the dedup yield: rows left after both removals.
	Deduplicated int
}

// Reconcile removes already-submitted ids and intra-batch duplicates (first
// occurrence wins), classifies the remainder, and drops incomplete rows whose
// id is already staged. Input order is preserved within each output slice.
func Reconcile(rows []model.Record, submitted, staged model.IDSet, rules Rules) Result {
	var res Result
	seen := make(model.IDSet, len(rows))

	for _, rec := range rows {
		if submitted.Has(rec.ExternalID) {
			res.AlreadySubmitted++
			continue
		}
		if seen.Has(rec.ExternalID) {
			res.Duplicates++
			continue
		}
		seen.Add(rec.ExternalID)
		res.Deduplicated++

		if IsComplete(&rec, rules) {
			res.Complete = append(res.Complete, rec)
			continue
		}
		res.Incomplete = append(res.Incomplete, rec)
		if !staged.Has(rec.ExternalID) {
			res.NewStaged = append(res.NewStaged, rec)
		}
	}
	return res
}
