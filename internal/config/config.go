package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	TCPPort        string
	MetricsPort    string
	GRPCServer     string
	RedisAddr      string
	ProxyAddr      string
	CommandTimeout time.Duration
}

func Load() Config {
	return Config{
		TCPPort:        getEnv("TCP_PORT", "8001"),
		MetricsPort:    getEnv("METRICS_PORT", "9000"),
		GRPCServer:     getEnv("GRPC_SERVER", "localhost:50051"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		ProxyAddr:      getEnv("PROXY_ADDR", ""),
		CommandTimeout: time.Duration(getEnvInt("CMD_TIMEOUT_MS", 15000)) * time.Millisecond,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
