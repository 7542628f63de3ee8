package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/archive"
	"event-pipeline/internal/broker"
	"event-pipeline/internal/config"
	"event-pipeline/internal/controls"
	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
	"event-pipeline/internal/readmodel"
	"event-pipeline/internal/schema"
)

// 测试夹具：全内存依赖
type fixture struct {
	runner  *Runner
	store   *readmodel.MemoryStore
	broker  *broker.MemoryBroker
	archive *archive.MemoryArchive
	ctl     *controls.MemoryControls
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := readmodel.NewMemoryStore()
	brk := broker.NewMemoryBroker()
	arc := archive.NewMemoryArchive()
	ctl := controls.NewMemoryControls()
	registry := schema.NewRegistry()
	projector := projection.NewProjector(registry, store)

	cfg := config.JobsConfig{
		KillSwitchInterval: time.Millisecond,
		BatchSize:          2, // 小批次覆盖分页路径
		CoverageSamples:    10,
		CoverageThreshold:  0.9,
	}
	runner := NewRunner(projector, registry, store, brk, arc, ctl, cfg, WithReports(arc))
	return &fixture{runner: runner, store: store, broker: brk, archive: arc, ctl: ctl}
}

func jobEvent(id, aggregateID string, seq int64, eventType string, version int, occurredAt time.Time, payload string) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		EventID:       id,
		EventType:     eventType,
		SchemaVersion: version,
		OccurredAt:    occurredAt,
		TenantID:      "acme",
		AggregateType: model.AggregateOrder,
		AggregateID:   aggregateID,
		Sequence:      seq,
		Payload:       json.RawMessage(payload),
	}
}

// lifecycle 单个订单的三事件生命周期，业务时间从 base 开始
func lifecycle(aggregateID string, base time.Time) []*model.CanonicalEvent {
	return []*model.CanonicalEvent{
		jobEvent(aggregateID+"-e1", aggregateID, 1, model.EventOrderCreated, 2, base,
			`{"symbol":"AAPL","side":"buy","qty":10,"price":180.5,"currency":"USD"}`),
		jobEvent(aggregateID+"-e2", aggregateID, 2, model.EventOrderUpdated, 1, base.Add(time.Minute),
			`{"qty":15}`),
		jobEvent(aggregateID+"-e3", aggregateID, 3, model.EventOrderClosed, 1, base.Add(2*time.Minute),
			`{"reason":"filled"}`),
	}
}

func (f *fixture) publish(t *testing.T, events ...*model.CanonicalEvent) {
	t.Helper()
	for _, e := range events {
		env, err := model.WrapEvent(e)
		require.NoError(t, err)
		_, err = f.broker.Publish(context.Background(), env)
		require.NoError(t, err)
	}
}

// brokerScope 返回覆盖 broker 全部消息和给定业务时间的范围
func (f *fixture) brokerScope(t *testing.T, end time.Time) model.JobScope {
	t.Helper()
	oldest, err := f.broker.Oldest(context.Background())
	require.NoError(t, err)
	return model.JobScope{TenantIDs: []string{"acme"}, Start: oldest, End: end}
}

// ============================================================================
// 范围与 KillSwitch
// ============================================================================

func TestJobs_RejectUnboundedScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cases := []model.JobScope{
		{},                                     // 全空
		{TenantIDs: []string{"acme"}},          // 无时间窗口
		{Start: now, End: now.Add(time.Hour)},  // 无租户
		{TenantIDs: []string{"acme"}, Start: now.Add(time.Hour), End: now}, // 倒置窗口
	}
	for _, scope := range cases {
		_, err := f.runner.Replay(ctx, scope, 1, false)
		assert.ErrorIs(t, err, ErrUnboundedScope)
		_, err = f.runner.Backfill(ctx, scope, 1, false)
		assert.ErrorIs(t, err, ErrUnboundedScope)
		_, err = f.runner.Reconcile(ctx, scope, 1, AuditOnly)
		assert.ErrorIs(t, err, ErrUnboundedScope)
	}
}

func TestJobs_KillSwitchBlocksStart(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetKillSwitch(true, "incident in progress")
	scope := model.JobScope{
		TenantIDs: []string{"acme"},
		Start:     time.Now().Add(-time.Hour),
		End:       time.Now(),
	}

	_, err := f.runner.Backfill(context.Background(), scope, 1, false)
	assert.ErrorIs(t, err, ErrKillSwitchEngaged)
	_, err = f.runner.Reconcile(context.Background(), scope, 1, AuditOnly)
	assert.ErrorIs(t, err, ErrKillSwitchEngaged)
	err = f.runner.Cutover(context.Background(), model.AggregateOrder, 2, "oncall")
	assert.ErrorIs(t, err, ErrKillSwitchEngaged)
}

// ============================================================================
// Replay
// ============================================================================

func TestReplay_MaterializesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Second)

	f.publish(t, lifecycle("ord-1", base)...)
	f.publish(t, lifecycle("ord-2", base)...)
	scope := f.brokerScope(t, base.Add(time.Hour))

	rep, err := f.runner.Replay(ctx, scope, 1, false)
	require.NoError(t, err)
	assert.EqualValues(t, 6, rep.EventsRead)
	assert.EqualValues(t, 6, rep.EventsApplied)
	assert.Empty(t, rep.Errors)
	assert.False(t, rep.Aborted)

	doc, err := f.store.GetOrder(ctx, 1, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, model.OrderStatusClosed, doc.Status)
	assert.Equal(t, 15.0, doc.Qty)
	assert.Equal(t, rep.RunID, doc.Projection.Cursor.RunID)
}

func TestReplay_DeterministicAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Second)

	// 乱序发布：e3, e1, e2。批内排序 + 缺口补跑应收敛
	events := lifecycle("ord-1", base)
	f.publish(t, events[2], events[0], events[1])
	scope := f.brokerScope(t, base.Add(time.Hour))

	rep1, err := f.runner.Replay(ctx, scope, 1, false)
	require.NoError(t, err)
	require.Empty(t, rep1.Errors)
	doc1, _ := f.store.GetOrder(ctx, 1, "ord-1")
	require.NotNil(t, doc1)

	// 第二次重放：纯 no-op，状态不变
	rep2, err := f.runner.Replay(ctx, scope, 1, false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rep2.EventsApplied)
	assert.EqualValues(t, 3, rep2.DuplicatesIgnored+rep2.StaleIgnored)

	doc2, _ := f.store.GetOrder(ctx, 1, "ord-1")
	assert.Equal(t, doc1.Projection.StateHash, doc2.Projection.StateHash)
	assert.Equal(t, model.OrderStatusClosed, doc2.Status)
}

func TestReplay_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Second)

	f.publish(t, lifecycle("ord-1", base)...)
	scope := f.brokerScope(t, base.Add(time.Hour))

	rep, err := f.runner.Replay(ctx, scope, 1, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsRead)
	assert.True(t, rep.DryRun)

	doc, _ := f.store.GetOrder(ctx, 1, "ord-1")
	assert.Nil(t, doc, "dry run must not materialize")
}

func TestReplay_WindowBeyondRetention(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC()
	f.publish(t, lifecycle("ord-1", base)...)

	scope := model.JobScope{
		TenantIDs: []string{"acme"},
		Start:     base.Add(-24 * time.Hour), // 早于最老消息
		End:       base.Add(time.Hour),
	}
	_, err := f.runner.Replay(context.Background(), scope, 1, false)
	assert.ErrorIs(t, err, ErrWindowBeyondRetention)
}

func TestReplay_ScopeFiltersTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Second)

	events := lifecycle("ord-1", base)
	other := lifecycle("ord-2", base)
	for _, e := range other {
		e.TenantID = "globex"
	}
	f.publish(t, events...)
	f.publish(t, other...)
	scope := f.brokerScope(t, base.Add(time.Hour))

	rep, err := f.runner.Replay(ctx, scope, 1, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsRead, "globex events are out of scope")

	doc, _ := f.store.GetOrder(ctx, 1, "ord-2")
	assert.Nil(t, doc)
}

// ============================================================================
// Backfill
// ============================================================================

func TestBackfill_MaterializesFromArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) // 远早于 broker 保留期

	for _, e := range lifecycle("ord-1", base) {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{
		TenantIDs: []string{"acme"},
		Start:     base.Add(-time.Hour),
		End:       base.Add(time.Hour),
	}

	rep, err := f.runner.Backfill(ctx, scope, 2, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsRead)
	assert.EqualValues(t, 3, rep.EventsApplied)

	doc, err := f.store.GetOrder(ctx, 2, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, model.OrderStatusClosed, doc.Status)

	// 报告已归档
	_, ok := f.archive.Report(rep.RunID)
	assert.True(t, ok)
}

func TestBackfill_UpcastsV1Events(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	// 历史归档里的 v1 事件：没有 currency
	e := jobEvent("old-e1", "ord-old", 1, model.EventOrderCreated, 1, base,
		`{"symbol":"TSLA","side":"sell","qty":5,"price":250}`)
	require.NoError(t, f.archive.Append(ctx, e))

	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	_, err := f.runner.Backfill(ctx, scope, 1, false)
	require.NoError(t, err)

	doc, _ := f.store.GetOrder(ctx, 1, "ord-old")
	require.NotNil(t, doc)
	assert.Equal(t, "USD", doc.Currency, "v1 events upcast with default currency")
}

// flippingSwitch 放行前 allow 次查询，之后返回已触发
type flippingSwitch struct {
	calls int
	allow int
}

func (s *flippingSwitch) GetKillSwitch(ctx context.Context) (*model.KillSwitch, error) {
	s.calls++
	if s.calls <= s.allow {
		return &model.KillSwitch{}, nil
	}
	return &model.KillSwitch{Enabled: true, Reason: "op abort"}, nil
}

func TestBackfill_AbortsMidRunOnKillSwitch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	store := readmodel.NewMemoryStore()
	arc := archive.NewMemoryArchive()
	registry := schema.NewRegistry()
	projector := projection.NewProjector(registry, store)

	// 间隔为 0：每批之间都查询开关；启动检查放行一次后翻转
	cfg := config.JobsConfig{BatchSize: 2, CoverageSamples: 10, CoverageThreshold: 0.9}
	sw := &flippingSwitch{allow: 1}
	runner := NewRunner(projector, registry, store, broker.NewMemoryBroker(), arc, sw, cfg, WithReports(arc))

	for i := 0; i < 5; i++ {
		agg := string(rune('a' + i))
		e := jobEvent("bf-"+agg, "ord-"+agg, 1, model.EventOrderCreated, 2, base.Add(time.Duration(i)*time.Minute),
			`{"symbol":"AAPL","side":"buy","qty":1,"price":1,"currency":"USD"}`)
		require.NoError(t, arc.Append(ctx, e))
	}

	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	rep, err := runner.Backfill(ctx, scope, 1, false)
	require.ErrorIs(t, err, ErrKillSwitchEngaged)
	require.NotNil(t, rep)
	assert.True(t, rep.Aborted)
	assert.Less(t, rep.EventsRead, int64(5), "must stop before sweeping the whole window")
}

// ============================================================================
// Reconcile
// ============================================================================

func TestReconcile_CleanWhenConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	events := lifecycle("ord-1", base)
	for _, e := range events {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}

	// 先物化，再对账
	_, err := f.runner.Backfill(ctx, scope, 1, false)
	require.NoError(t, err)

	rep, err := f.runner.Reconcile(ctx, scope, 1, AuditOnly)
	require.NoError(t, err)
	assert.True(t, rep.Clean())
	assert.EqualValues(t, 3, rep.EventsReplayed)
	assert.EqualValues(t, 1, rep.Checked)
}

func TestReconcile_DetectsExactlyOneMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, agg := range []string{"ord-1", "ord-2", "ord-3"} {
		for _, e := range lifecycle(agg, base) {
			require.NoError(t, f.archive.Append(ctx, e))
		}
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	_, err := f.runner.Backfill(ctx, scope, 1, false)
	require.NoError(t, err)

	// 人为破坏一个文档的业务字段
	doc, err := f.store.GetOrder(ctx, 1, "ord-2")
	require.NoError(t, err)
	doc.Qty = 999
	swapped, err := f.store.ReplaceOrderIf(ctx, 1, doc, doc.Projection.Cursor.OrderingKey)
	require.NoError(t, err)
	require.True(t, swapped)

	rep, err := f.runner.Reconcile(ctx, scope, 1, AuditOnly)
	require.NoError(t, err)
	require.Len(t, rep.Mismatches, 1, "exactly the corrupted aggregate must surface")
	assert.Equal(t, "ord-2", rep.Mismatches[0].AggregateID)
	assert.Contains(t, rep.Mismatches[0].MismatchedField, "qty")
	assert.Empty(t, rep.RepairPlan, "audit-only mode emits no repair plan")
}

func TestReconcile_EmitRepairPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range lifecycle("ord-1", base) {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	_, err := f.runner.Backfill(ctx, scope, 1, false)
	require.NoError(t, err)

	doc, _ := f.store.GetOrder(ctx, 1, "ord-1")
	doc.Price = 1.23
	_, err = f.store.ReplaceOrderIf(ctx, 1, doc, doc.Projection.Cursor.OrderingKey)
	require.NoError(t, err)

	rep, err := f.runner.Reconcile(ctx, scope, 1, EmitRepairPlan)
	require.NoError(t, err)
	require.Len(t, rep.RepairPlan, 1)
	action := rep.RepairPlan[0]
	assert.Equal(t, "ord-1", action.AggregateID)
	assert.Equal(t, "price", action.Field)
	assert.Equal(t, 180.5, action.Expected)
	assert.Equal(t, 1.23, action.Stored)
}

func TestReconcile_ReportsMissingAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range lifecycle("ord-1", base) {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}

	// 不物化，直接对账：读模型完全缺失
	rep, err := f.runner.Reconcile(ctx, scope, 1, AuditOnly)
	require.NoError(t, err)
	require.Len(t, rep.Mismatches, 1)
	assert.True(t, rep.Mismatches[0].Missing)
}

func TestReconcile_ShadowNeverWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range lifecycle("ord-1", base) {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}

	_, err := f.runner.Reconcile(ctx, scope, 1, AuditOnly)
	require.NoError(t, err)

	doc, _ := f.store.GetOrder(ctx, 1, "ord-1")
	assert.Nil(t, doc, "reconciliation must not materialize")
}

// ============================================================================
// Cutover / Rollback / Ramp
// ============================================================================

// seedVersion 在指定版本直接物化若干订单
func (f *fixture) seedVersion(t *testing.T, version int, aggregates ...string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, agg := range aggregates {
		for _, e := range lifecycle(agg, base) {
			require.NoError(t, f.archive.Append(ctx, e))
		}
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	_, err := f.runner.Backfill(ctx, scope, version, false)
	require.NoError(t, err)
}

func TestCutover_SwitchesPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedVersion(t, 1, "ord-1", "ord-2")
	f.seedVersion(t, 2, "ord-1", "ord-2")
	require.NoError(t, f.store.EnsureVersionIndexes(ctx, 2))
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 1,
	}))

	require.NoError(t, f.runner.Cutover(ctx, model.AggregateOrder, 2, "oncall"))

	p, err := f.store.GetPointer(ctx, model.AggregateOrder)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ActiveVersion)
	assert.Equal(t, "oncall", p.UpdatedBy)

	v, err := f.store.ActiveVersion(ctx, model.AggregateOrder, "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCutover_RequiresIndexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedVersion(t, 2, "ord-1")

	err := f.runner.Cutover(ctx, model.AggregateOrder, 2, "oncall")
	assert.ErrorIs(t, err, ErrIndexesMissing)
}

func TestCutover_RejectsLowCoverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// v1 有两个订单，v2 只回补了一个：覆盖率 0.5 < 0.9
	f.seedVersion(t, 1, "ord-1", "ord-2")
	f.seedVersion(t, 2, "ord-1")
	require.NoError(t, f.store.EnsureVersionIndexes(ctx, 2))
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 1,
	}))

	err := f.runner.Cutover(ctx, model.AggregateOrder, 2, "oncall")
	assert.ErrorIs(t, err, ErrCoverageTooLow)

	p, _ := f.store.GetPointer(ctx, model.AggregateOrder)
	assert.Equal(t, 1, p.ActiveVersion, "failed cutover must not move the pointer")
}

func TestRollback_RepointsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 2,
	}))

	require.NoError(t, f.runner.Rollback(ctx, model.AggregateOrder, 1, "oncall"))

	p, _ := f.store.GetPointer(ctx, model.AggregateOrder)
	assert.Equal(t, 1, p.ActiveVersion)
}

func TestRampTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 1,
	}))

	require.NoError(t, f.runner.RampTenant(ctx, model.AggregateOrder, "acme", 2, "oncall"))

	v, _ := f.store.ActiveVersion(ctx, model.AggregateOrder, "acme", 1)
	assert.Equal(t, 2, v)
	v, _ = f.store.ActiveVersion(ctx, model.AggregateOrder, "globex", 1)
	assert.Equal(t, 1, v)

	// 清除灰度
	require.NoError(t, f.runner.RampTenant(ctx, model.AggregateOrder, "acme", 0, "oncall"))
	v, _ = f.store.ActiveVersion(ctx, model.AggregateOrder, "acme", 1)
	assert.Equal(t, 1, v)
}

// ============================================================================
// 活跃版本防护与单次运行限速
// ============================================================================

func TestReplay_RejectsActiveTargetVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 1,
	}))

	base := time.Now().UTC().Add(time.Second)
	f.publish(t, lifecycle("ord-1", base)...)
	scope := f.brokerScope(t, base.Add(time.Hour))

	_, err := f.runner.Replay(ctx, scope, 1, false)
	assert.ErrorIs(t, err, ErrTargetVersionActive)
	doc, err := f.store.GetOrder(ctx, 1, "ord-1")
	require.NoError(t, err)
	assert.Nil(t, doc, "rejected run must not touch the live version")

	// 非活跃版本不需要放行
	rep, err := f.runner.Replay(ctx, scope, 2, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsApplied)

	// 显式放行后允许写活跃版本
	rep, err = f.runner.Replay(ctx, scope, 1, false, AllowActive())
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsApplied)
}

func TestBackfill_RejectsRampedTenantVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPointer(ctx, &model.ReadModelPointer{
		ID: model.AggregateOrder, ActiveVersion: 1,
		Ramp: map[string]int{"acme": 2},
	}))

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range lifecycle("ord-1", base) {
		require.NoError(t, f.archive.Append(ctx, e))
	}
	scope := model.JobScope{TenantIDs: []string{"acme"}, Start: base.Add(-time.Hour), End: base.Add(time.Hour)}

	// acme 灰度在 v2：v2 对该租户即为活跃版本
	_, err := f.runner.Backfill(ctx, scope, 2, false)
	assert.ErrorIs(t, err, ErrTargetVersionActive)

	// v3 不服务任何实时读取
	rep, err := f.runner.Backfill(ctx, scope, 3, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsApplied)
}

func TestReplay_MaxQPSThrottles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Second)
	f.publish(t, lifecycle("ord-1", base)...)
	scope := f.brokerScope(t, base.Add(time.Hour))

	started := time.Now()
	rep, err := f.runner.Replay(ctx, scope, 1, false, WithMaxQPS(2))
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.EventsApplied)
	assert.GreaterOrEqual(t, time.Since(started), 500*time.Millisecond,
		"third write must wait for the next rate window")
}
