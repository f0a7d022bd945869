// Command cacheprune removes extraction cache entries older than a cutoff.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"docsense/internal/cache"
	"docsense/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if len(os.Args) < 3 {
		fmt.Println("Usage: cacheprune <config_path> <max_age_hours>")
		fmt.Println("Example: cacheprune config.json 168")
		os.Exit(1)
	}

	configPath := os.Args[1]
	maxAgeHours, err := strconv.Atoi(os.Args[2])
	if err != nil || maxAgeHours <= 0 {
		log.Fatal().Msgf("Invalid max_age_hours value: %v", os.Args[2])
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Msgf("Failed to load configuration: %v", err)
	}

	store, err := cache.NewRedisStore(cfg.Redis, time.Duration(cfg.Cache.TTLHours)*time.Hour)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	removed, err := store.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		log.Fatal().Msgf("Prune failed after removing %d entries: %v", removed, err)
	}

	fmt.Printf("Removed %d cache entries older than %s\n", removed, cutoff.Format(time.RFC3339))
}
