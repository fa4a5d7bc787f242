package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SyncSubmitted reads every result id from the CRM and records the ones the
// local submitted set is missing. It returns the number newly recorded.
func (p *Pipeline) SyncSubmitted(ctx context.Context) (int, error) {
	remote, err := p.crm.ListSubmittedIDs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list remote submissions")
	}

	local, err := p.store.SubmittedIDs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: load submitted ids")
	}

	var missing []string
	for _, id := range remote {
		if id != "" && !local.Has(id) {
			missing = append(missing, id)
			local.Add(id)
		}
	}
	if len(missing) == 0 {
		zap.L().Info("pipeline: submitted set in sync", zap.Int("remote", len(remote)))
		return 0, nil
	}

	n, err := p.store.RecordSubmissions(ctx, missing, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: record remote submissions")
	}
	zap.L().Info("pipeline: recorded remote submissions",
		zap.Int("remote", len(remote)),
		zap.Int("recorded", n),
	)
	return n, nil
}
