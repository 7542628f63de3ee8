// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Ingestor PortConfig     `yaml:"ingestor"`
	Consumer PortConfig     `yaml:"consumer"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Etcd     EtcdConfig     `yaml:"etcd"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Postgres PostgresConfig `yaml:"postgres"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PortConfig 服务端口配置
type PortConfig struct {
	Port string `yaml:"port"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// EtcdConfig etcd 配置
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// PostgresConfig PostgreSQL 配置（作业审计日志）
type PostgresConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env           Environment
	MongoURI      string
	MongoDatabase string
	RedisURL      string
	EtcdEndpoints []string
	EtcdPrefix    string
	MinIO         MinIOConfig
	PostgresURL   string
	IngestorPort  string
	ConsumerPort  string
	Pipeline      PipelineConfig
	PushJWTSecret string
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	pgPassword := getEnv("PG_PASSWORD", "pipeline_dev_password")
	if ak := os.Getenv("MINIO_ACCESS_KEY"); ak != "" {
		yamlCfg.MinIO.AccessKey = ak
	}
	if sk := os.Getenv("MINIO_SECRET_KEY"); sk != "" {
		yamlCfg.MinIO.SecretKey = sk
	}

	cfg := &Config{
		Env:           env,
		MongoURI:      fmt.Sprintf("mongodb://%s:%d", yamlCfg.Mongo.Host, yamlCfg.Mongo.Port),
		MongoDatabase: yamlCfg.Mongo.Database,
		RedisURL:      fmt.Sprintf("redis://%s:%d/%d", yamlCfg.Redis.Host, yamlCfg.Redis.Port, yamlCfg.Redis.DB),
		EtcdEndpoints: yamlCfg.Etcd.Endpoints,
		EtcdPrefix:    yamlCfg.Etcd.Prefix,
		MinIO:         yamlCfg.MinIO,
		PostgresURL:   buildPostgresURL(yamlCfg.Postgres, pgPassword),
		IngestorPort:  yamlCfg.Ingestor.Port,
		ConsumerPort:  yamlCfg.Consumer.Port,
		Pipeline:      yamlCfg.Pipeline,
		PushJWTSecret: getEnv("PUSH_JWT_SECRET", ""),
	}

	// 验证并填充流水线默认值
	cfg.Pipeline.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Ingestor: PortConfig{Port: "8090"},
		Consumer: PortConfig{Port: "8091"},
		Mongo:    MongoConfig{Host: "localhost", Port: 27017, Database: "event_pipeline"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Etcd:     EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/pipeline"},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "event-archive"},
		Postgres: PostgresConfig{Host: "localhost", Port: 5432, User: "pipeline", Name: "pipeline_audit", SSLMode: "disable"},
		Pipeline: DefaultPipelineConfig(),
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildPostgresURL 构建 PostgreSQL 连接字符串
func buildPostgresURL(pg PostgresConfig, password string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, password, pg.Host, pg.Port, pg.Name, pg.SSLMode)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Mongo: %s/%s, Redis: %s, Postgres: %s}",
		c.Env, c.MongoURI, c.MongoDatabase, c.RedisURL, maskPassword(c.PostgresURL))
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:]+:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}
