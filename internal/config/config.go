package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"medbin-backend/internal/tracking"
)

// Config is everything the server reads from the environment.
type Config struct {
	Port                      string
	DatabaseURL               string
	JWTSecret                 string
	RabbitMQURL               string
	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	Tracking                  tracking.Options
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                      getenv("PORT", "8080"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		JWTSecret:                 os.Getenv("APP_JWT_SECRET"),
		RabbitMQURL:               os.Getenv("RABBITMQ_URL"),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   getenv("FIREBASE_CREDENTIALS_FILE", "./firebase-service-account.json"),
		Tracking:                  tracking.DefaultOptions(),
	}

	var err error
	t := &cfg.Tracking
	if t.StopDuration, err = durationEnv("STOP_DURATION_THRESHOLD", t.StopDuration); err != nil {
		return nil, err
	}
	if t.StopSpeedEpsilon, err = floatEnv("STOP_SPEED_EPSILON_KMH", t.StopSpeedEpsilon); err != nil {
		return nil, err
	}
	if t.DedupWindow, err = durationEnv("DEDUP_WINDOW", t.DedupWindow); err != nil {
		return nil, err
	}
	if t.DedupRadiusMeters, err = floatEnv("DEDUP_RADIUS_METERS", t.DedupRadiusMeters); err != nil {
		return nil, err
	}
	if t.MaxActiveGap, err = durationEnv("MAX_ACTIVE_GAP", t.MaxActiveGap); err != nil {
		return nil, err
	}
	if t.InferredLookback, err = durationEnv("INFERRED_LOOKBACK", t.InferredLookback); err != nil {
		return nil, err
	}
	if t.InferredDetection, err = boolEnv("INFERRED_DETECTION", t.InferredDetection); err != nil {
		return nil, err
	}

	if t.DedupWindow < t.StopDuration {
		return nil, fmt.Errorf("DEDUP_WINDOW (%s) must not be shorter than STOP_DURATION_THRESHOLD (%s)", t.DedupWindow, t.StopDuration)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}
