package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
)

// ReconcileMode 对账输出模式
type ReconcileMode int

const (
	// AuditOnly 只报告差异
	AuditOnly ReconcileMode = iota
	// EmitRepairPlan 额外产出修复计划（仅供人工复核，不执行）
	EmitRepairPlan
)

// Reconcile 对账：影子回放归档事件，与存储的读模型比对状态哈希
//
// 影子回放在内存中走与实时消费完全相同的判定与状态转移函数，
// 不产生任何写入。只有在窗口内看到创建事件的聚合才会进入影子
// 集（缺前驱的事件停留在缺口状态），窗口切到聚合生命周期中段
// 不会产生假差异。
func (r *Runner) Reconcile(ctx context.Context, scope model.JobScope, version int, mode ReconcileMode) (*model.DiscrepancyReport, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	gate := r.newKillGate()
	if err := gate.check(ctx, true); err != nil {
		return nil, err
	}

	runID := newRunID("reconcile")
	rep := &model.DiscrepancyReport{
		RunID:   runID,
		Scope:   scope,
		Version: version,
	}
	audit := &model.JobReport{
		RunID:         runID,
		Kind:          "reconcile",
		TargetVersion: version,
		StartedAt:     time.Now().UTC(),
	}
	r.startRun(ctx, runID, audit.Kind, scope, true)
	r.logger.JobLog("started", runID, "kind", audit.Kind, "version", version,
		"window_start", scope.Start, "window_end", scope.End, "tenants", scope.TenantIDs)

	shadow := make(map[string]*model.OrderDoc)
	var deferred []*model.CanonicalEvent

	apply := func(e *model.CanonicalEvent) bool {
		doc := shadow[e.AggregateID]
		if outcome := projection.Decide(doc, e); outcome != projection.OutcomeApplied {
			if outcome == projection.OutcomeGap {
				return false
			}
			return true
		}
		payload, err := r.registry.Decode(e)
		if err != nil {
			r.recordError(audit, fmt.Sprintf("decode %s: %v", e.EventID, err))
			return true
		}
		next, err := projection.Next(doc, e, payload, runID)
		if err != nil {
			r.recordError(audit, fmt.Sprintf("shadow apply %s: %v", e.EventID, err))
			return true
		}
		shadow[e.AggregateID] = next
		return true
	}

	for _, tenantID := range scope.TenantIDs {
		since := time.Now()
		err := r.archive.ReadWindow(ctx, tenantID, scope.Start, scope.End, func(e *model.CanonicalEvent) error {
			rep.EventsReplayed++
			audit.EventsRead++
			if !apply(e) {
				deferred = append(deferred, e)
			}
			if time.Since(since) > r.cfg.KillSwitchInterval {
				since = time.Now()
				return gate.check(ctx, true)
			}
			return nil
		})
		if errors.Is(err, ErrKillSwitchEngaged) {
			r.abort(ctx, audit, err)
			return nil, err
		}
		if err != nil {
			r.recordError(audit, fmt.Sprintf("read archive for tenant %s: %v", tenantID, err))
		}
	}

	// 缺口补跑：窗口内乱序的事件在前驱就位后收敛
	for pass := 0; pass < gapRetryPasses && len(deferred) > 0; pass++ {
		sortByAggregate(deferred)
		var rest []*model.CanonicalEvent
		for _, e := range deferred {
			if !apply(e) {
				rest = append(rest, e)
			}
		}
		deferred = rest
	}

	// 比对：影子状态 vs 存储状态
	ids := make([]string, 0, len(shadow))
	for id := range shadow {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := gate.check(ctx, false); err != nil {
			r.abort(ctx, audit, err)
			return nil, err
		}
		expected := shadow[id]
		rep.Checked++

		stored, err := r.readModel.GetOrder(ctx, version, id)
		if err != nil {
			r.recordError(audit, fmt.Sprintf("read stored %s: %v", id, err))
			continue
		}
		if stored == nil {
			rep.Mismatches = append(rep.Mismatches, model.Mismatch{
				AggregateID:  id,
				TenantID:     expected.TenantID,
				ExpectedHash: expected.StateHash(),
				Missing:      true,
			})
			continue
		}

		expectedHash := expected.StateHash()
		storedHash := stored.StateHash()
		if expectedHash == storedHash {
			continue
		}

		m := model.Mismatch{
			AggregateID:  id,
			TenantID:     expected.TenantID,
			ExpectedHash: expectedHash,
			StoredHash:   storedHash,
		}
		diffs := diffOrders(expected, stored)
		for _, d := range diffs {
			m.MismatchedField = append(m.MismatchedField, d.Field)
		}
		rep.Mismatches = append(rep.Mismatches, m)

		if mode == EmitRepairPlan {
			for _, d := range diffs {
				d.AggregateID = id
				d.Version = version
				rep.RepairPlan = append(rep.RepairPlan, d)
			}
		}
	}

	rep.GeneratedAt = time.Now().UTC()
	audit.EventsApplied = rep.Checked
	r.finishRun(ctx, audit)

	if r.reports != nil {
		if err := r.reports.PutReport(ctx, runID+"-discrepancy", rep); err != nil {
			r.logger.WithError(err).WithRunID(runID).Warn("archive discrepancy report failed")
		}
	}
	r.logger.JobLog("reconciled", runID,
		"replayed", rep.EventsReplayed, "checked", rep.Checked, "mismatches", len(rep.Mismatches))
	return rep, nil
}

// diffOrders 逐业务字段比对，产出修复建议
func diffOrders(expected, stored *model.OrderDoc) []model.RepairAction {
	var out []model.RepairAction
	add := func(field string, exp, got any) {
		if exp != got {
			out = append(out, model.RepairAction{Field: field, Expected: exp, Stored: got})
		}
	}
	add("tenant_id", expected.TenantID, stored.TenantID)
	add("symbol", expected.Symbol, stored.Symbol)
	add("side", expected.Side, stored.Side)
	add("qty", expected.Qty, stored.Qty)
	add("price", expected.Price, stored.Price)
	add("currency", expected.Currency, stored.Currency)
	add("status", string(expected.Status), string(stored.Status))
	add("close_reason", expected.CloseReason, stored.CloseReason)
	add("opened_at", expected.OpenedAt.UTC().Format(time.RFC3339Nano), stored.OpenedAt.UTC().Format(time.RFC3339Nano))

	expClosed, gotClosed := "", ""
	if expected.ClosedAt != nil {
		expClosed = expected.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	if stored.ClosedAt != nil {
		gotClosed = stored.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	add("closed_at", expClosed, gotClosed)
	return out
}
