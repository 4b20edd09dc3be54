package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"moto-alarm/ingestion/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}
	cfg := config.Load()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	keys := parseSeedKeys(os.Getenv("SEED_API_KEYS"), cfg.DefaultEntityID)
	step1_api_keys(ctx, client, keys)
	step2_verify(ctx, client, keys)

	fmt.Println("\n✅ Redis seeded successfully")
}

// parseSeedKeys reads "key=entity,key2=entity2". A bare key maps to the
// default entity.
func parseSeedKeys(raw, defaultEntity string) map[string]string {
	if raw == "" {
		raw = "test_key"
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, entity, ok := strings.Cut(pair, "=")
		if !ok || entity == "" {
			entity = defaultEntity
		}
		out[key] = entity
	}
	return out
}

func step1_api_keys(ctx context.Context, client *redis.Client, keys map[string]string) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	// Key pattern: tracker:auth:{api_key} → entity_id
	// TTL = 0 means permanent
	for apiKey, entityID := range keys {
		key := "tracker:auth:" + apiKey
		if err := client.Set(ctx, key, entityID, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, entityID)
	}
}

func step2_verify(ctx context.Context, client *redis.Client, keys map[string]string) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	found, err := client.Keys(ctx, "tracker:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(found))

	for apiKey, want := range keys {
		got, err := client.Get(ctx, "tracker:auth:"+apiKey).Result()
		if err != nil || got != want {
			log.Fatalf("Spot check failed for %s: got %q, %v", apiKey, got, err)
		}
		fmt.Printf("  ✓ spot check: tracker:auth:%s → %s\n", apiKey, got)
		break
	}
}
