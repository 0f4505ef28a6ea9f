// Package config loads broker configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config groups all broker-related settings.
type Config struct {
	Application string
	Broker      Broker
	Pool        Pool
	Management  Management
}

// Broker holds connection settings for the AMQP broker.
type Broker struct {
	Host           string
	Port           int
	User           string
	Password       string
	VHost          string
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
}

// Pool holds publisher channel pool settings.
type Pool struct {
	InitialSize int
}

// Management holds observability settings. The management port only serves
// diagnostics; the broker itself is never reached through it.
type Management struct {
	Port int
}

// Load reads configuration from environment variables, falling back to
// development defaults.
func Load() Config {
	return Config{
		Application: getEnv("APP_NAME", "shoplane"),
		Broker: Broker{
			Host:           getEnv("BROKER_HOST", "localhost"),
			Port:           getEnvInt("BROKER_PORT", 5672),
			User:           getEnv("BROKER_USER", "guest"),
			Password:       getEnv("BROKER_PASSWORD", "guest"),
			VHost:          getEnv("BROKER_VHOST", "/"),
			Heartbeat:      getEnvDuration("BROKER_HEARTBEAT", 30*time.Second),
			ReconnectDelay: getEnvDuration("BROKER_RECONNECT_DELAY", time.Second),
		},
		Pool: Pool{
			InitialSize: getEnvInt("BROKER_POOL_SIZE", 5),
		},
		Management: Management{
			Port: getEnvInt("BROKER_MANAGEMENT_PORT", 15672),
		},
	}
}

// URL builds the amqp connection URL from the broker settings.
func (b Broker) URL() string {
	vhost := b.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(b.User),
		url.QueryEscape(b.Password),
		b.Host,
		b.Port,
		url.PathEscape(vhost),
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
