package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceConfig holds process settings read from the environment.
type ServiceConfig struct {
	HTTPAddr   string
	HealthAddr string
	DBPath     string
	LogFile    string

	SerialPort   string
	SerialBaud   int
	SerialEnable bool

	NATSURL      string
	NATSPrefix   string
	NATSDisabled bool

	RideConfigPath string
	PlanCacheSize  int
	PlanCacheTTL   time.Duration
}

// LoadService reads a .env file when present, then the environment.
// Missing variables take defaults; malformed ones are errors.
func LoadService(envFiles ...string) (*ServiceConfig, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load(envFiles...)

	cfg := &ServiceConfig{
		HTTPAddr:       getenvDefault("RADAR_HTTP_ADDR", ":8080"),
		HealthAddr:     getenvDefault("RADAR_HEALTH_ADDR", ":8081"),
		DBPath:         getenvDefault("RADAR_DB_PATH", "route_radar.db"),
		LogFile:        os.Getenv("RADAR_LOG_FILE"),
		SerialPort:     getenvDefault("RADAR_SERIAL_PORT", "/dev/ttyACM0"),
		NATSURL:        os.Getenv("NATS_URL"),
		NATSPrefix:     getenvDefault("NATS_PREFIX", "radar"),
		RideConfigPath: os.Getenv("RADAR_RIDE_CONFIG"),
	}

	var err error
	if cfg.SerialBaud, err = getenvInt("RADAR_SERIAL_BAUD", 9600); err != nil {
		return nil, err
	}
	if cfg.PlanCacheSize, err = getenvInt("RADAR_PLAN_CACHE_SIZE", 8); err != nil {
		return nil, err
	}
	cfg.SerialEnable = getenvBool("RADAR_SERIAL_ENABLE", false)
	cfg.NATSDisabled = cfg.NATSURL == ""

	cfg.PlanCacheTTL = 30 * time.Minute
	if v := os.Getenv("RADAR_PLAN_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid RADAR_PLAN_CACHE_TTL: %q", v)
		}
		cfg.PlanCacheTTL = d
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
