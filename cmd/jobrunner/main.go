// Package main 运维作业命令行入口
//
// 用法示例：
//
//	jobrunner -job=replay -tenants=acme,globex -start=2026-08-01T00:00:00Z -end=2026-08-02T00:00:00Z -version=2 -max-qps=200
//	jobrunner -job=backfill -tenants=acme -start=2026-01-01T00:00:00Z -end=2026-06-01T00:00:00Z -version=2 -dry-run
//	jobrunner -job=reconcile -tenants=acme -start=2026-08-01T00:00:00Z -end=2026-08-02T00:00:00Z -version=1 -repair-plan
//	jobrunner -job=cutover -version=2 -actor=oncall
//	jobrunner -job=rollback -version=1 -actor=oncall
//	jobrunner -job=ramp -tenant=acme -version=2 -actor=oncall
//	jobrunner -job=killswitch -enable -reason="bad deploy"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"event-pipeline/internal/archive"
	brokerredis "event-pipeline/internal/broker/redis"
	"event-pipeline/internal/config"
	"event-pipeline/internal/controls"
	"event-pipeline/internal/jobaudit"
	"event-pipeline/internal/jobs"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
	"event-pipeline/internal/ratelimit"
	"event-pipeline/internal/readmodel"
	"event-pipeline/internal/schema"
)

func main() {
	job := flag.String("job", "", "作业类型: replay | backfill | reconcile | cutover | rollback | ramp | killswitch")
	tenants := flag.String("tenants", "", "租户列表（逗号分隔）")
	start := flag.String("start", "", "窗口起点（RFC3339）")
	end := flag.String("end", "", "窗口终点（RFC3339，开区间）")
	version := flag.Int("version", 0, "目标读模型版本")
	dryRun := flag.Bool("dry-run", false, "只计算不写入")
	allowActive := flag.Bool("allow-active", false, "显式允许写入实时读取的版本")
	maxQPS := flag.Int("max-qps", 0, "本次运行的全局写入速率上限（每秒），0 不限")
	repairPlan := flag.Bool("repair-plan", false, "对账时产出修复计划")
	tenant := flag.String("tenant", "", "灰度目标租户（ramp 用）")
	actor := flag.String("actor", "", "操作人标识")
	enable := flag.Bool("enable", false, "killswitch: 触发")
	reason := flag.String("reason", "", "killswitch: 触发原因")
	flag.Parse()

	if *job == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log.Printf("Jobrunner [env=%s] job=%s", cfg.Env, *job)

	ctl, err := controls.NewStore(controls.Config{
		Endpoints: cfg.EtcdEndpoints,
		Prefix:    cfg.EtcdPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}
	defer ctl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// killswitch 不需要其余依赖，单独处理
	if *job == "killswitch" {
		if err := ctl.SetKillSwitch(ctx, *enable, *reason); err != nil {
			log.Fatalf("Failed to set kill switch: %v", err)
		}
		log.Printf("Kill switch set: enabled=%v reason=%q", *enable, *reason)
		return
	}

	store, err := readmodel.NewStore(cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer store.Close()

	brk, err := brokerredis.NewStore(cfg.RedisURL, cfg.Pipeline.Topic, cfg.Pipeline.DLQTopic)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer brk.Close()

	arc, err := archive.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	m := metrics.New("pipeline", "jobrunner")
	registry := schema.NewRegistry()
	governor := ratelimit.NewGovernor(cfg.Pipeline.RateLimit, m)
	projector := projection.NewProjector(registry, store,
		projection.WithGovernor(governor),
		projection.WithMetrics(m))

	opts := []jobs.Option{jobs.WithReports(arc), jobs.WithMetrics(m)}
	audit, err := jobaudit.NewStore(cfg.PostgresURL)
	if err != nil {
		log.Printf("Job audit unavailable, continuing without: %v", err)
	} else {
		defer audit.Close()
		opts = append(opts, jobs.WithAudit(audit))
	}

	runner := jobs.NewRunner(projector, registry, store, brk, arc, ctl, cfg.Pipeline.Jobs, opts...)

	scope := model.JobScope{TenantIDs: splitTenants(*tenants)}
	if *start != "" {
		scope.Start = mustParseTime(*start, "start")
	}
	if *end != "" {
		scope.End = mustParseTime(*end, "end")
	}

	var runOpts []jobs.RunOption
	if *allowActive {
		runOpts = append(runOpts, jobs.AllowActive())
	}
	if *maxQPS > 0 {
		runOpts = append(runOpts, jobs.WithMaxQPS(*maxQPS))
	}

	switch *job {
	case "replay":
		requireVersion(*version)
		ensureIndexes(ctx, store, *version)
		rep, err := runner.Replay(ctx, scope, *version, *dryRun, runOpts...)
		finish(rep, err)

	case "backfill":
		requireVersion(*version)
		ensureIndexes(ctx, store, *version)
		rep, err := runner.Backfill(ctx, scope, *version, *dryRun, runOpts...)
		finish(rep, err)

	case "reconcile":
		requireVersion(*version)
		mode := jobs.AuditOnly
		if *repairPlan {
			mode = jobs.EmitRepairPlan
		}
		rep, err := runner.Reconcile(ctx, scope, *version, mode)
		if err != nil {
			log.Fatalf("Reconcile failed: %v", err)
		}
		printJSON(rep)
		if !rep.Clean() {
			os.Exit(1)
		}

	case "cutover":
		requireVersion(*version)
		if err := runner.Cutover(ctx, model.AggregateOrder, *version, *actor); err != nil {
			log.Fatalf("Cutover failed: %v", err)
		}
		log.Printf("Cutover to v%d done", *version)

	case "rollback":
		requireVersion(*version)
		if err := runner.Rollback(ctx, model.AggregateOrder, *version, *actor); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Printf("Rollback to v%d done", *version)

	case "ramp":
		if *tenant == "" {
			log.Fatal("-tenant required for ramp")
		}
		if err := runner.RampTenant(ctx, model.AggregateOrder, *tenant, *version, *actor); err != nil {
			log.Fatalf("Ramp failed: %v", err)
		}
		log.Printf("Tenant %s ramped to v%d", *tenant, *version)

	default:
		log.Fatalf("Unknown job: %s", *job)
	}
}

func splitTenants(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustParseTime(s, name string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Fatalf("Invalid -%s: %v", name, err)
	}
	return t
}

func requireVersion(v int) {
	if v < 1 {
		log.Fatal("-version required")
	}
}

// ensureIndexes 物化写入前先建目标集合索引
func ensureIndexes(ctx context.Context, store *readmodel.Store, version int) {
	if err := store.EnsureVersionIndexes(ctx, version); err != nil {
		log.Fatalf("Failed to ensure indexes for v%d: %v", version, err)
	}
}

func finish(rep *model.JobReport, err error) {
	if rep != nil {
		printJSON(rep)
	}
	if err != nil {
		log.Fatalf("Job failed: %v", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
