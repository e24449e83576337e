package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds defaults for the two listeners and logging. Values come
// from the environment (optionally seeded from a .env file) and can be
// overridden by command line flags in cmd.
type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	return &Config{
		APIListenAddr: getEnvOrDefault("PEERCALL_API_ADDR", ":8080"),
		WSListenAddr:  getEnvOrDefault("PEERCALL_WS_ADDR", ":8888"),
		LogLevel:      getEnvOrDefault("PEERCALL_LOG_LEVEL", "debug"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
