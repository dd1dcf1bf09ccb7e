package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// snapshot appends the current profile or post metadata of every snapshot
// target.
func (p *Pipeline) snapshot(ctx context.Context, sum *Summary) {
	for _, t := range p.snapshotTargets {
		if ctx.Err() != nil {
			sum.Interrupted = true
			return
		}
		if err := p.snapshotTarget(ctx, t); err != nil {
			sum.SnapshotsFailed++
			p.logger.ErrorWithFields("Failed to snapshot target", map[string]interface{}{
				"target": t.Raw,
				"error":  err.Error(),
			})
			continue
		}
		sum.SnapshotsOK++
	}
}

func (p *Pipeline) snapshotTarget(ctx context.Context, t Target) error {
	storeCtx := context.WithoutCancel(ctx)
	if t.IsPost() {
		post, err := p.session.GetPost(ctx, t.Shortcode)
		if err != nil {
			return err
		}
		data, err := rawOrMarshal(post.Raw, post)
		if err != nil {
			return err
		}
		return p.snapshots.SavePostSnapshot(storeCtx, t.Shortcode, data)
	}

	profile, err := p.session.GetProfile(ctx, t.Account)
	if err != nil {
		return err
	}
	data, err := rawOrMarshal(profile.Raw, profile)
	if err != nil {
		return err
	}
	return p.snapshots.SaveProfileSnapshot(storeCtx, t.Account, data)
}

func rawOrMarshal(raw json.RawMessage, v interface{}) (json.RawMessage, error) {
	if len(raw) > 0 && json.Valid(raw) {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}
