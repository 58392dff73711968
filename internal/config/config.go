package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string
	// ResourceConnectionString carries the chat resource endpoint and access
	// key ("endpoint=...;accesskey=..."). It must never be logged or returned
	// to clients.
	ResourceConnectionString string
	AccessTTL                time.Duration
	DevTokenSecret           string
	SeedEventID              string
	SeedRoomTitles           []string
	CORSOrigin               string
	// Redis Configuration
	RedisURL string
	// Postgres Configuration
	DatabaseURL string
}

func Load() Config {
	return Config{
		Addr:                     getenv("API_ADDR", ":8080"),
		ResourceConnectionString: getenv("RESOURCE_CONNECTION_STRING", ""),
		AccessTTL:                time.Duration(getenvInt("GATEHOUSE_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		DevTokenSecret:           getenv("GATEHOUSE_DEV_TOKEN_SECRET", "gatehouse-dev-secret"),
		SeedEventID:              getenv("GATEHOUSE_SEED_EVENT_ID", ""),
		SeedRoomTitles:           getenvList("GATEHOUSE_SEED_ROOM_TITLES"),
		CORSOrigin:               getenv("GATEHOUSE_CORS_ORIGIN", "*"),
		RedisURL:                 getenv("REDIS_URL", ""),
		DatabaseURL:              getenv("DATABASE_URL", ""),
	}
}

// ConnectionString is the parsed form of a resource connection string.
type ConnectionString struct {
	Endpoint  string
	AccessKey string
}

// ParseConnectionString splits "endpoint=https://...;accesskey=..." into its
// parts. Keys are case-insensitive; unknown segments are ignored.
func ParseConnectionString(raw string) (ConnectionString, error) {
	var cs ConnectionString
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		if !found {
			return ConnectionString{}, fmt.Errorf("malformed connection string segment %q", key)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			cs.Endpoint = strings.TrimSuffix(strings.TrimSpace(value), "/")
		case "accesskey":
			cs.AccessKey = strings.TrimSpace(value)
		}
	}
	if cs.Endpoint == "" {
		return ConnectionString{}, errors.New("connection string missing endpoint")
	}
	if cs.AccessKey == "" {
		return ConnectionString{}, errors.New("connection string missing accesskey")
	}
	return cs, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
