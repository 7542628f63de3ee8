package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
)

// Backfill 从归档回补窗口内的事件到目标读模型版本
//
// 归档覆盖全量历史，不受 broker 保留期限制；新读模型版本的
// 物化从这里起步。归档按 occurred_at 升序回调，批内再按聚合
// 排序兜底时间戳相同的事件。目标版本不得是范围内租户实时读取
// 的版本，除非 AllowActive 显式放行。
func (r *Runner) Backfill(ctx context.Context, scope model.JobScope, targetVersion int, dryRun bool, opts ...RunOption) (*model.JobReport, error) {
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

	rep := &model.JobReport{
		RunID:         newRunID("backfill"),
		Kind:          "backfill",
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

	for _, tenantID := range scope.TenantIDs {
		batch := make([]*model.CanonicalEvent, 0, r.cfg.BatchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := gate.check(ctx, false); err != nil {
				return err
			}
			deferred = append(deferred, r.applyBatch(ctx, batch, opt, gov, rep)...)
			batch = batch[:0]
			return nil
		}

		err := r.archive.ReadWindow(ctx, tenantID, scope.Start, scope.End, func(e *model.CanonicalEvent) error {
			rep.EventsRead++
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				return flush()
			}
			return nil
		})
		if err == nil {
			err = flush()
		}
		if errors.Is(err, ErrKillSwitchEngaged) {
			r.abort(ctx, rep, err)
			return rep, err
		}
		if err != nil {
			r.recordError(rep, fmt.Sprintf("read archive for tenant %s: %v", tenantID, err))
		}
	}

	r.retryDeferred(ctx, deferred, opt, gov, rep)
	r.finishRun(ctx, rep)
	return rep, nil
}
