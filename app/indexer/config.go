package indexer

import (
	"os"

	"github.com/canopy-network/roscax/pkg/utils"
)

type sourceConfig struct {
	Kind      string // EVENT_SOURCE: redis or kafka
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Lanes     int
}

type config struct {
	Source        sourceConfig
	NotifyEnabled bool
	AuditSpec     string // "off" disables the deposit audit
	MetricsAddr   string
}

func configFromEnv() config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "indexer"
	}
	return config{
		Source: sourceConfig{
			Kind:      utils.Env("EVENT_SOURCE", "redis"),
			Stream:    utils.Env("EVENT_STREAM", "rosca:events"),
			Group:     utils.Env("EVENT_GROUP", "roscax-indexer"),
			Consumer:  utils.Env("EVENT_CONSUMER", hostname),
			BatchSize: utils.EnvInt64("EVENT_BATCH_SIZE", 100),
			Lanes:     utils.EnvInt("PROJECTION_LANES", 8),
		},
		NotifyEnabled: utils.EnvBool("NOTIFY_ENABLED", false),
		// seconds field first, like every schedule in this repo
		AuditSpec:   utils.Env("AUDIT_SCHEDULE", "0 */10 * * * *"),
		MetricsAddr: utils.Env("METRICS_ADDR", ":9102"),
	}
}

// needsRedis reports whether any enabled component talks to Redis.
func (c config) needsRedis() bool {
	return c.Source.Kind == "redis" || c.NotifyEnabled
}
