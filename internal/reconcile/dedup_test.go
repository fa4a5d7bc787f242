package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/screening-sync/internal/model"
)

func incompleteRecord(id string) model.Record {
	r := completeRecord(id)
	r.SecondaryID = ""
	return r
}

func ids(recs []model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ExternalID)
	}
	return out
}

func TestReconcile_Counts(t *testing.T) {
	// N=8 rows, K=2 duplicates, M=2 already submitted.
	rows := []model.Record{
		completeRecord("A"),
		completeRecord("B"),
		completeRecord("A"),
		incompleteRecord("C"),
		completeRecord("S1"),
		incompleteRecord("D"),
		completeRecord("S2"),
		incompleteRecord("C"),
	}
	res := Reconcile(rows, model.NewIDSet("S1", "S2", "ZZ"), model.NewIDSet("D"), rules)

	assert.Equal(t, 2, res.AlreadySubmitted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, len(rows)-2-2, res.Deduplicated)
	assert.Equal(t, []string{"A", "B"}, ids(res.Complete))
	assert.Equal(t, []string{"C", "D"}, ids(res.Incomplete))
	assert.Equal(t, []string{"C"}, ids(res.NewStaged), "already staged ids are not re-staged")
}

func TestReconcile_FirstOccurrenceWins(t *testing.T) {
	first := completeRecord("A")
	second := completeRecord("A")
	second.FirstName = "Other"

	res := Reconcile([]model.Record{first, second}, nil, nil, rules)
	assert.Len(t, res.Complete, 1)
	assert.Equal(t, "Jane", res.Complete[0].FirstName)
}

func TestReconcile_SubmittedAndStagedDisjoint(t *testing.T) {
	rows := []model.Record{incompleteRecord("X"), completeRecord("Y")}
	res := Reconcile(rows, model.NewIDSet("X"), nil, rules)

	assert.Empty(t, res.NewStaged)
	assert.Equal(t, []string{"Y"}, ids(res.Complete))
}

func TestReconcile_Empty(t *testing.T) {
	res := Reconcile(nil, nil, nil, rules)
	assert.Zero(t, res.Deduplicated)
	assert.Empty(t, res.Complete)
}
