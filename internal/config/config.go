// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration knobs for the HTTP server, the local sale
// queue, the remote ledger client, and the background sync scheduler.
type Config struct {
	HTTPAddr string

	// QueuePath is the SQLite file backing the pending-sale queue.
	QueuePath string

	LedgerBaseURL string
	LedgerAPIKey  string
	LedgerTimeout time.Duration

	SyncInterval time.Duration

	// RetryBackoffBase is the delay before the second attempt of a failed
	// record; it doubles per attempt up to RetryBackoffCap. Zero disables
	// backoff and retries every pass.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":8081"),
		QueuePath:        getenv("QUEUE_PATH", "stocksight.db"),
		LedgerBaseURL:    getenv("LEDGER_BASE_URL", "http://localhost:8000"),
		LedgerAPIKey:     getenv("LEDGER_API_KEY", ""),
		LedgerTimeout:    durenvs("LEDGER_TIMEOUT", 5),
		SyncInterval:     durenvs("SYNC_INTERVAL", 30),
		RetryBackoffBase: durenvs("RETRY_BACKOFF_BASE", 60),
		RetryBackoffCap:  durenvs("RETRY_BACKOFF_CAP", 900),
	}
}
