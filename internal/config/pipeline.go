// Package config 流水线配置
package config

import "time"

// PipelineConfig 事件流水线配置
type PipelineConfig struct {
	Topic          string          `yaml:"topic"`           // 主事件 stream
	Group          string          `yaml:"group"`           // 实时消费者组
	ReplayGroup    string          `yaml:"replay_group"`    // 回放专用消费者组（与实时隔离）
	DLQTopic       string          `yaml:"dlq_topic"`       // 死信 stream
	DefaultVersion int             `yaml:"default_version"` // 切换指针缺失时的读模型版本兜底
	Producer       ProducerConfig  `yaml:"producer"`
	Push           PushConfig      `yaml:"push"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Jobs           JobsConfig      `yaml:"jobs"`
	ActiveWindow   time.Duration   `yaml:"active_window"` // broker 保留窗口（超出走归档回补）
}

// ProducerConfig 生产者重试配置
type ProducerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PushConfig 推送投递配置
type PushConfig struct {
	MaxDeliveries int           `yaml:"max_deliveries"` // 超过后进入死信
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	BatchSize     int64         `yaml:"batch_size"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	GlobalPerWindow    int           `yaml:"global_per_window"`
	PerAggregateWindow int           `yaml:"per_aggregate_window"`
	Window             time.Duration `yaml:"window"`
	JitterThreshold    float64       `yaml:"jitter_threshold"` // 负载比例超过该值时注入抖动
	MaxJitter          time.Duration `yaml:"max_jitter"`
}

// JobsConfig 作业配置
type JobsConfig struct {
	KillSwitchInterval time.Duration `yaml:"kill_switch_interval"` // KillSwitch 轮询间隔
	BatchSize          int           `yaml:"batch_size"`
	CoverageSamples    int           `yaml:"coverage_samples"`   // 切换前抽样校验数量
	CoverageThreshold  float64       `yaml:"coverage_threshold"` // 抽样命中率下限
}

// DefaultPipelineConfig 返回流水线默认配置
func DefaultPipelineConfig() PipelineConfig {
	cfg := PipelineConfig{}
	cfg.validate()
	return cfg
}

// validate 验证并填充流水线默认值
func (p *PipelineConfig) validate() {
	if p.Topic == "" {
		p.Topic = "events:canonical"
	}
	if p.Group == "" {
		p.Group = "materializers"
	}
	if p.ReplayGroup == "" {
		p.ReplayGroup = "replayers"
	}
	if p.DLQTopic == "" {
		p.DLQTopic = "events:deadletter"
	}
	if p.DefaultVersion == 0 {
		p.DefaultVersion = 1
	}
	if p.Producer.MaxAttempts == 0 {
		p.Producer.MaxAttempts = 5
	}
	if p.Producer.InitialBackoff == 0 {
		p.Producer.InitialBackoff = 200 * time.Millisecond
	}
	if p.Producer.MaxBackoff == 0 {
		p.Producer.MaxBackoff = 10 * time.Second
	}
	if p.Push.MaxDeliveries == 0 {
		p.Push.MaxDeliveries = 5
	}
	if p.Push.BlockTimeout == 0 {
		p.Push.BlockTimeout = 5 * time.Second
	}
	if p.Push.BatchSize == 0 {
		p.Push.BatchSize = 10
	}
	if p.Push.RetryBackoff == 0 {
		p.Push.RetryBackoff = 2 * time.Second
	}
	if p.RateLimit.GlobalPerWindow == 0 {
		p.RateLimit.GlobalPerWindow = 500
	}
	if p.RateLimit.PerAggregateWindow == 0 {
		p.RateLimit.PerAggregateWindow = 5
	}
	if p.RateLimit.Window == 0 {
		p.RateLimit.Window = time.Second
	}
	if p.RateLimit.JitterThreshold == 0 {
		p.RateLimit.JitterThreshold = 0.8
	}
	if p.RateLimit.MaxJitter == 0 {
		p.RateLimit.MaxJitter = 250 * time.Millisecond
	}
	if p.Jobs.KillSwitchInterval == 0 {
		p.Jobs.KillSwitchInterval = 10 * time.Second
	}
	if p.Jobs.BatchSize == 0 {
		p.Jobs.BatchSize = 200
	}
	if p.Jobs.CoverageSamples == 0 {
		p.Jobs.CoverageSamples = 20
	}
	if p.Jobs.CoverageThreshold == 0 {
		p.Jobs.CoverageThreshold = 0.95
	}
	if p.ActiveWindow == 0 {
		p.ActiveWindow = 72 * time.Hour
	}
}
