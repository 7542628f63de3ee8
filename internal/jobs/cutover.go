package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"event-pipeline/internal/model"
)

var (
	// ErrIndexesMissing 目标版本索引未就绪
	ErrIndexesMissing = errors.New("target version indexes not ready")
	// ErrCoverageTooLow 抽样覆盖率低于阈值
	ErrCoverageTooLow = errors.New("target version coverage below threshold")
)

// Cutover 将读模型指针原子切换到目标版本
//
// 前置校验：目标集合索引齐备，且从当前活跃版本抽样的文档在
// 目标版本中的命中率不低于配置阈值。校验通过后单文档替换
// 指针，读路径立即生效；旧版本集合保留，随时可回滚。
func (r *Runner) Cutover(ctx context.Context, aggregateType string, targetVersion int, actor string) error {
	gate := r.newKillGate()
	if err := gate.check(ctx, true); err != nil {
		return err
	}

	ready, err := r.readModel.HasVersionIndexes(ctx, targetVersion)
	if err != nil {
		return fmt.Errorf("check indexes for v%d: %w", targetVersion, err)
	}
	if !ready {
		return fmt.Errorf("%w: version %d", ErrIndexesMissing, targetVersion)
	}

	current, err := r.readModel.GetPointer(ctx, aggregateType)
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}

	// 抽样覆盖率：当前版本随机取样，逐个确认在目标版本中存在
	if current != nil && current.ActiveVersion != targetVersion {
		ratio, sampled, err := r.coverage(ctx, current.ActiveVersion, targetVersion)
		if err != nil {
			return err
		}
		if sampled > 0 && ratio < r.cfg.CoverageThreshold {
			return fmt.Errorf("%w: %.2f < %.2f (sampled %d from v%d)",
				ErrCoverageTooLow, ratio, r.cfg.CoverageThreshold, sampled, current.ActiveVersion)
		}
		r.logger.Info("coverage check passed",
			"from", current.ActiveVersion, "to", targetVersion, "ratio", ratio, "sampled", sampled)
	}

	runID := newRunID("cutover")
	pointer := &model.ReadModelPointer{
		ID:            aggregateType,
		ActiveVersion: targetVersion,
		UpdatedAt:     time.Now().UTC(),
		UpdatedBy:     actor,
		RunID:         runID,
	}
	if current != nil {
		pointer.Ramp = current.Ramp
	}
	if err := r.readModel.SetPointer(ctx, pointer); err != nil {
		return fmt.Errorf("set pointer: %w", err)
	}

	r.logger.JobLog("cutover", runID,
		"aggregate_type", aggregateType, "version", targetVersion, "actor", actor)
	return nil
}

// Rollback 将指针切回指定版本（应急路径，跳过覆盖率抽样）
func (r *Runner) Rollback(ctx context.Context, aggregateType string, toVersion int, actor string) error {
	current, err := r.readModel.GetPointer(ctx, aggregateType)
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}

	runID := newRunID("rollback")
	pointer := &model.ReadModelPointer{
		ID:            aggregateType,
		ActiveVersion: toVersion,
		UpdatedAt:     time.Now().UTC(),
		UpdatedBy:     actor,
		RunID:         runID,
	}
	if current != nil {
		pointer.Ramp = current.Ramp
	}
	if err := r.readModel.SetPointer(ctx, pointer); err != nil {
		return fmt.Errorf("set pointer: %w", err)
	}

	r.logger.JobLog("rollback", runID,
		"aggregate_type", aggregateType, "version", toVersion, "actor", actor)
	return nil
}

// RampTenant 为单个租户设置版本覆盖（灰度切换）
// version 为 0 时清除覆盖，租户回到全局活跃版本
func (r *Runner) RampTenant(ctx context.Context, aggregateType, tenantID string, version int, actor string) error {
	current, err := r.readModel.GetPointer(ctx, aggregateType)
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}
	if current == nil {
		return fmt.Errorf("no pointer for aggregate type %s", aggregateType)
	}

	if current.Ramp == nil {
		current.Ramp = make(map[string]int)
	}
	if version == 0 {
		delete(current.Ramp, tenantID)
	} else {
		current.Ramp[tenantID] = version
	}
	current.UpdatedAt = time.Now().UTC()
	current.UpdatedBy = actor

	if err := r.readModel.SetPointer(ctx, current); err != nil {
		return fmt.Errorf("set pointer: %w", err)
	}
	r.logger.Info("tenant ramp updated",
		"aggregate_type", aggregateType, "tenant_id", tenantID, "version", version, "actor", actor)
	return nil
}

// coverage 抽样覆盖率：fromVersion 取样 → targetVersion 命中率
func (r *Runner) coverage(ctx context.Context, fromVersion, targetVersion int) (float64, int, error) {
	ids, err := r.readModel.SampleOrderIDs(ctx, fromVersion, r.cfg.CoverageSamples)
	if err != nil {
		return 0, 0, fmt.Errorf("sample v%d: %w", fromVersion, err)
	}
	if len(ids) == 0 {
		return 1, 0, nil
	}

	hit := 0
	for _, id := range ids {
		ok, err := r.readModel.ExistsOrder(ctx, targetVersion, id)
		if err != nil {
			return 0, 0, fmt.Errorf("probe %s in v%d: %w", id, targetVersion, err)
		}
		if ok {
			hit++
		}
	}
	return float64(hit) / float64(len(ids)), len(ids), nil
}
