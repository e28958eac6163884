package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"geoquiz/game"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port           string
	BindAddress    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	JWTSecret      string
	LogLevel       string
	StoreBackend   string
	ArchiveEnabled bool
	PublicURL      string
	CORSOrigins    []string
	SweepSchedule  string

	CountdownSeconds         int
	TurnSeconds              int
	RollDelayMinMS           int
	RollDelayMaxMS           int
	MaxPlayers               int
	WaitingRoomMinutes       int
	HeartbeatSeconds         int
	StalePlayerSeconds       int
	FinishedRetentionMinutes int
}

// Load reads the environment, after a .env file when one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		BindAddress:    getEnv("BIND_ADDRESS", "localhost"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "geoquiz"),
		DBPassword:     getEnv("DB_PASSWORD", "geoquiz123"),
		DBName:         getEnv("DB_NAME", "geoquiz"),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StoreBackend:   getEnv("STORE_BACKEND", "redis"),
		ArchiveEnabled: getEnvBool("ARCHIVE_ENABLED", true),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:5173"), "/"),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 1m"),

		CountdownSeconds:         getEnvInt("COUNTDOWN_SECONDS", 5),
		TurnSeconds:              getEnvInt("TURN_SECONDS", 30),
		RollDelayMinMS:           getEnvInt("ROLL_DELAY_MIN_MS", 600),
		RollDelayMaxMS:           getEnvInt("ROLL_DELAY_MAX_MS", 1500),
		MaxPlayers:               getEnvInt("MAX_PLAYERS", 8),
		WaitingRoomMinutes:       getEnvInt("WAITING_ROOM_MINUTES", 15),
		HeartbeatSeconds:         getEnvInt("HEARTBEAT_SECONDS", 10),
		StalePlayerSeconds:       getEnvInt("STALE_PLAYER_SECONDS", 30),
		FinishedRetentionMinutes: getEnvInt("FINISHED_RETENTION_MINUTES", 10),
	}
}

// Rules converts the timing settings, keeping the defaults for anything
// left at zero or below.
func (c *Config) Rules() game.Rules {
	rules := game.DefaultRules()
	if c.CountdownSeconds > 0 {
		rules.CountdownDuration = time.Duration(c.CountdownSeconds) * time.Second
	}
	if c.TurnSeconds > 0 {
		rules.TurnDuration = time.Duration(c.TurnSeconds) * time.Second
	}
	if c.RollDelayMinMS >= 0 {
		rules.RollDelayMin = time.Duration(c.RollDelayMinMS) * time.Millisecond
	}
	if c.RollDelayMaxMS >= c.RollDelayMinMS {
		rules.RollDelayMax = time.Duration(c.RollDelayMaxMS) * time.Millisecond
	}
	if c.MaxPlayers > 0 {
		rules.MaxPlayers = c.MaxPlayers
	}
	if c.WaitingRoomMinutes > 0 {
		rules.WaitingRoomTimeout = time.Duration(c.WaitingRoomMinutes) * time.Minute
	}
	if c.StalePlayerSeconds > 0 {
		rules.StalePlayerAfter = time.Duration(c.StalePlayerSeconds) * time.Second
	}
	if c.FinishedRetentionMinutes > 0 {
		rules.FinishedRetention = time.Duration(c.FinishedRetentionMinutes) * time.Minute
	}
	return rules
}

func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// InitLogger builds a production logger, or a development one for
// LOG_LEVEL=debug.
func InitLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
