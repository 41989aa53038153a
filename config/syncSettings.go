package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type DatabaseSettings struct {
	Driver          string `validate:"oneof=sqlite mysql"`
	Path            string `validate:"required_if=Driver sqlite"`
	Host            string `validate:"required_if=Driver mysql"`
	Port            string
	User            string
	Password        string
	Name            string `validate:"required_if=Driver mysql"`
	ConnectAttempts int    `validate:"gte=0"`
}

// SyncSettings is everything the service needs to build a sync session.
type SyncSettings struct {
	Interval             time.Duration `validate:"gte=1000000000"`
	ConnectivityProbe    string        `validate:"omitempty,hostname_port"`
	ConnectivityInterval time.Duration `validate:"gte=1000000000"`
	SignalTopic          string
	UseRedisLock         bool
	RedisAddress         string
	RemoteBackend        string `validate:"oneof=firestore memory"`
	HTTPPort             string `validate:"required,numeric"`
	Database             DatabaseSettings
}

var validate = validator.New()

// LoadSyncSettings reads settings from the environment (after .env) and validates them.
func LoadSyncSettings() (*SyncSettings, error) {
	s := &SyncSettings{
		Interval:             time.Duration(intFromEnv("SYNC_INTERVAL_SECONDS", 10)) * time.Second,
		ConnectivityProbe:    stringFromEnv("SYNC_CONNECTIVITY_PROBE", "firestore.googleapis.com:443"),
		ConnectivityInterval: time.Duration(intFromEnv("SYNC_CONNECTIVITY_INTERVAL_SECONDS", 5)) * time.Second,
		SignalTopic:          os.Getenv("SYNC_SIGNAL_TOPIC"),
		UseRedisLock:         boolFromEnv("SYNC_USE_REDIS_LOCK", false),
		RedisAddress:         os.Getenv("REDIS_ADDRESS"),
		RemoteBackend:        strings.ToLower(stringFromEnv("SYNC_REMOTE_BACKEND", "firestore")),
		HTTPPort:             stringFromEnv("PORT", "8080"),
		Database: DatabaseSettings{
			Driver:          strings.ToLower(stringFromEnv("LOCAL_DB_DRIVER", DriverSQLite)),
			Path:            stringFromEnv("LOCAL_DB_PATH", "ledger.db"),
			Host:            os.Getenv("DB_HOST"),
			Port:            stringFromEnv("DB_PORT", "3306"),
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            os.Getenv("DB_NAME_2"),
			ConnectAttempts: intFromEnv("DB_CONNECT_ATTEMPTS", 0),
		},
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SyncSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid sync settings: %w", err)
	}
	return nil
}

func stringFromEnv(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
