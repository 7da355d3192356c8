package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config safety-config（设备配置管理 HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Schema struct {
		File string // 可选：YAML 规则文件，覆盖内置校验规则
	}
	Rollout struct {
		BulkWorkers int // 批量下发的并发 worker 数
	}
	MQTT    MQTTConfig
	Gateway GatewayConfig
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// MQTTConfig MQTT 配置（设备回报结果 + pending 提示发布）
type MQTTConfig struct {
	Enabled      bool   // 是否启用 MQTT（默认 false）
	Broker       string // Broker 地址（如 "tcp://localhost:1883"）
	ClientID     string // 客户端 ID
	Username     string // 用户名（可选）
	Password     string // 密码（可选）
	OutcomeTopic string // 设备回报结果的订阅主题
	PendingTopic string // pending 提示发布主题前缀（+ /<device_id>）
}

// GatewayConfig 可选的 fleet gateway 通知配置
// 有新的 pending 变更时 POST 事件到运维侧网关；设备仍以拉取为准
type GatewayConfig struct {
	Enabled bool
	BaseURL string
	Token   string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// 默认开启；连不上库时回落到内存 Repository，本地 go run 即可联调
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "safetyconfig")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Schema.File = getEnv("SCHEMA_FILE", "")
	cfg.Rollout.BulkWorkers = parseInt(getEnv("BULK_WORKERS", "8"), 8)

	// MQTT 配置（设备端回报 applied/failed，默认禁用）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "safety-config")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.OutcomeTopic = getEnv("MQTT_OUTCOME_TOPIC", "safety/config/outcome")
	cfg.MQTT.PendingTopic = getEnv("MQTT_PENDING_TOPIC", "safety/config/pending")

	// Gateway 通知配置（默认禁用）
	cfg.Gateway.Enabled = getEnv("GATEWAY_ENABLED", "false") == "true"
	cfg.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", "")
	cfg.Gateway.Token = getEnv("GATEWAY_TOKEN", "")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
