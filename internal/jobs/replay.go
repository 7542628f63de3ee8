package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
)

// Replay 从 broker 历史回放窗口内的事件到目标读模型版本
//
// 仅适用于仍在 broker 保留期内的窗口，更早的历史走 Backfill。
// 回放走独立消费者组语义之外的窗口回读，不影响实时消费的 pending
// 状态；投影幂等，与实时流量并发执行安全。目标版本不得是范围内
// 租户实时读取的版本，除非 AllowActive 显式放行。
func (r *Runner) Replay(ctx context.Context, scope model.JobScope, targetVersion int, dryRun bool, opts ...RunOption) (*model.JobReport, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	o := collectRunOptions(opts)
	if !o.allowActive {
		if err := r.guardActiveVersion(ctx, scope, targetVersion); err != nil {
			return nil, err
		}
	}

	gate := r.newKillGate()
	if err := gate.check(ctx, true); err != nil {
		return nil, err
	}

	oldest, err := r.window.Oldest(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe broker retention: %w", err)
	}
	if !oldest.IsZero() && scope.Start.Before(oldest) {
		return nil, fmt.Errorf("%w: window starts %s, retention starts %s",
			ErrWindowBeyondRetention, scope.Start.Format(time.RFC3339), oldest.Format(time.RFC3339))
	}

	rep := &model.JobReport{
		RunID:         newRunID("replay"),
		Kind:          "replay",
		TargetVersion: targetVersion,
		DryRun:        dryRun,
		StartedAt:     time.Now().UTC(),
	}
	r.startRun(ctx, rep.RunID, rep.Kind, scope, dryRun)
	r.logger.JobLog("started", rep.RunID, "kind", rep.Kind,
		"version", targetVersion, "dry_run", dryRun,
		"window_start", scope.Start, "window_end", scope.End, "tenants", scope.TenantIDs)

	opt := projection.ApplyOptions{Version: targetVersion, RunID: rep.RunID, DryRun: dryRun}
	gov := r.perRunGovernor(o)
	var deferred []*model.CanonicalEvent

	afterID := ""
	for {
		if err := gate.check(ctx, false); err != nil {
			r.abort(ctx, rep, err)
			return rep, err
		}

		deliveries, nextID, err := r.window.ReadWindow(ctx, scope.Start, scope.End, afterID, int64(r.cfg.BatchSize))
		if err != nil {
			r.recordError(rep, fmt.Sprintf("read window after %q: %v", afterID, err))
			break
		}

		batch := make([]*model.CanonicalEvent, 0, len(deliveries))
		for _, d := range deliveries {
			e, err := d.Envelope.DecodeEvent()
			if err != nil {
				r.recordError(rep, fmt.Sprintf("decode %s: %v", d.Envelope.MessageID, err))
				continue
			}
			if !scope.Contains(e.TenantID, e.OccurredAt) {
				continue
			}
			rep.EventsRead++
			batch = append(batch, e)
		}
		deferred = append(deferred, r.applyBatch(ctx, batch, opt, gov, rep)...)

		if nextID == "" {
			break
		}
		afterID = nextID
	}

	r.retryDeferred(ctx, deferred, opt, gov, rep)
	r.finishRun(ctx, rep)
	return rep, nil
}

// abort KillSwitch 触发后的中止收尾
func (r *Runner) abort(ctx context.Context, rep *model.JobReport, cause error) {
	rep.Aborted = true
	if errors.Is(cause, ErrKillSwitchEngaged) {
		rep.AbortReason = cause.Error()
	} else {
		rep.AbortReason = fmt.Sprintf("aborted: %v", cause)
	}
	r.finishRun(ctx, rep)
}
