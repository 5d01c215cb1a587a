// Package config loads engine configuration from the environment,
// following the same getEnvDefault convention the task/plugin
// executors use rather than introducing a config-file format.
package config

import (
	"os"
	"strconv"
	"time"
)

// Engine holds the knobs cmd/yawlengine needs to wire the boundary.
type Engine struct {
	Service          string
	StorePath        string
	ReceiptStorePath string
	VerifyingKeyPath string
	TickBudget       int
	HTTPAddr         string
	CatchupWindow    time.Duration
}

// Load reads Engine from the environment, applying the teacher's
// defaults-first convention.
func Load() Engine {
	return Engine{
		Service:          getEnvDefault("YAWL_SERVICE", "yawlengine"),
		StorePath:        getEnvDefault("YAWL_STORE_PATH", "./data/engine.db"),
		ReceiptStorePath: getEnvDefault("YAWL_RECEIPT_STORE_PATH", "./data/receipts"),
		VerifyingKeyPath: getEnvDefault("YAWL_VERIFYING_KEY_PATH", ""),
		TickBudget:       getEnvInt("YAWL_TICK_BUDGET", 8),
		HTTPAddr:         getEnvDefault("YAWL_HTTP_ADDR", ":8080"),
		CatchupWindow:    getEnvDuration("YAWL_CATCHUP_WINDOW", 7*24*time.Hour),
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
