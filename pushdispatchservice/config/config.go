// Package config holds the single authoritative service configuration:
// an embedded YAML base, mapped to a clean struct, with environment
// overrides applied last.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Provider platforms the sender can be built for.
const (
	PlatformFCM     = "fcm"
	PlatformAPNS    = "apns"
	PlatformWebPush = "webpush"
)

// Fallback icon/badge reference used when neither YAML nor environment
// supplies one.
const DefaultIconURL = "/assets/icons/icon-192x192.png"

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NotifyConfig carries the payload defaults and audit settings the dispatch
// engine resolves once at construction.
type NotifyConfig struct {
	IconURL         string
	BadgeURL        string
	DefaultClickURL string
	MaxPendingAge   time.Duration
	AuditLogDir     string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	Platform               string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Notify     NotifyConfig
	APNS       APNSConfig
	Vapid      VapidConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("PLATFORM"); val != "" {
		logger.Debug("Overriding config value", "key", "PLATFORM", "source", "env")
		cfg.Platform = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Notification payload overrides
	if val := os.Getenv("NOTIFICATION_ICON_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "NOTIFICATION_ICON_URL", "source", "env")
		cfg.Notify.IconURL = val
	}
	if val := os.Getenv("NOTIFICATION_BADGE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "NOTIFICATION_BADGE_URL", "source", "env")
		cfg.Notify.BadgeURL = val
	}
	if val := os.Getenv("NOTIFICATION_CLICK_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "NOTIFICATION_CLICK_URL", "source", "env")
		cfg.Notify.DefaultClickURL = val
	}
	if val := os.Getenv("NOTIFICATION_AUDIT_LOG_DIR"); val != "" {
		cfg.Notify.AuditLogDir = val
	}
	if val := os.Getenv("NOTIFICATION_MAX_PENDING_AGE"); val != "" {
		if age, err := time.ParseDuration(val); err == nil {
			logger.Debug("Overriding config value", "key", "NOTIFICATION_MAX_PENDING_AGE", "source", "env")
			cfg.Notify.MaxPendingAge = age
		}
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	switch cfg.Platform {
	case PlatformFCM, PlatformAPNS, PlatformWebPush:
	case "":
		cfg.Platform = PlatformFCM
	default:
		return nil, fmt.Errorf("unknown platform %q (expected fcm, apns or webpush)", cfg.Platform)
	}
	if cfg.Notify.IconURL == "" {
		cfg.Notify.IconURL = DefaultIconURL
	}
	if cfg.Notify.BadgeURL == "" {
		cfg.Notify.BadgeURL = cfg.Notify.IconURL
	}
	if cfg.Notify.AuditLogDir == "" {
		cfg.Notify.AuditLogDir = "log"
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
