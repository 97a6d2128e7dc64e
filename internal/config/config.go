package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server holds HTTP listener settings.
type Server struct {
	Host          string
	Port          int
	ShutdownGrace time.Duration
}

// Chain holds settlement-chain settings.
type Chain struct {
	RPCURL             string
	ChainID            int64
	ReactorAddress     string
	Permit2Address     string
	CosignerPrivateKey string
}

// Protocol holds decay-schedule policy knobs.
type Protocol struct {
	OrderTTL      time.Duration // deadline relative to creation
	DecayWindow   time.Duration // decayStartTime = deadline - DecayWindow
	DecayFloorBps int64         // worst-case output as bps of requested output
	VerifySigs    bool          // recover and check swapper signature on submit
}

type Config struct {
	Server        Server
	Chain         Chain
	Protocol      Protocol
	DatabaseURL   string
	SweepInterval time.Duration // hub stale-connection sweep
	ReapInterval  time.Duration // expiry reaper; 0 disables
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over the .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: Server{
			Host:          getEnv("HOST", "0.0.0.0"),
			Port:          getEnvInt("PORT", 8080),
			ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE_SEC", 10*time.Second),
		},
		Chain: Chain{
			RPCURL:             os.Getenv("RPC_URL"),
			ChainID:            int64(getEnvInt("CHAIN_ID", 0)),
			ReactorAddress:     os.Getenv("REACTOR_ADDRESS"),
			Permit2Address:     os.Getenv("PERMIT2_ADDRESS"),
			CosignerPrivateKey: os.Getenv("COSIGNER_PRIVATE_KEY"),
		},
		Protocol: Protocol{
			OrderTTL:      getEnvDuration("ORDER_TTL_SEC", time.Hour),
			DecayWindow:   getEnvDuration("DECAY_WINDOW_SEC", 5*time.Minute),
			DecayFloorBps: int64(getEnvInt("DECAY_FLOOR_BPS", 9000)),
			VerifySigs:    getEnv("VERIFY_ORDER_SIGNATURES", "true") == "true",
		},
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SweepInterval: getEnvDuration("HUB_SWEEP_INTERVAL_SEC", 15*time.Minute),
		ReapInterval:  getEnvDuration("REAPER_INTERVAL_SEC", time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Chain.RPCURL == "" {
		return nil, fmt.Errorf("RPC_URL is required")
	}
	if cfg.Chain.ChainID <= 0 {
		return nil, fmt.Errorf("CHAIN_ID must be a positive integer")
	}
	if cfg.Chain.CosignerPrivateKey == "" {
		return nil, fmt.Errorf("COSIGNER_PRIVATE_KEY is required")
	}
	if cfg.Protocol.DecayFloorBps <= 0 || cfg.Protocol.DecayFloorBps > 10000 {
		return nil, fmt.Errorf("DECAY_FLOOR_BPS must be in (0, 10000]")
	}
	if cfg.Protocol.DecayWindow >= cfg.Protocol.OrderTTL {
		return nil, fmt.Errorf("DECAY_WINDOW_SEC must be shorter than ORDER_TTL_SEC")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
