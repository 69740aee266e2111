package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/hongbao/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	RedisAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Engine EngineConfig
}

// Milestone pays Bonus once when an inviter's invite count reaches Threshold.
type Milestone struct {
	Threshold int
	Bonus     int64
}

// EngineConfig bounds packet creation and configures split policies and
// rewards. All amounts are in the currency's minor unit.
type EngineConfig struct {
	MaxShareCount  int
	MinShareAmount int64
	MaxMessageLen  int
	PacketTTL      time.Duration

	BombEligibleCounts []int
	BombsPerPacket     int
	BombPenaltyBps     int64
	BombMaxMultiple    int64
	AllowBombDebt      bool

	RewardCurrency     string
	InviterBonus       int64
	InviteeBonus       int64
	CommissionTier1Bps int64
	CommissionTier2Bps int64
	Milestones         []Milestone

	ClaimRetries int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "hongbao"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		RedisAddr: strings.TrimSpace(getenv("REDIS_ADDR", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "hongbao"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Engine: EngineConfig{
			MaxShareCount:  getenvInt("PACKET_MAX_SHARES", 100),
			MinShareAmount: getenvInt64("PACKET_MIN_SHARE", 1),
			MaxMessageLen:  getenvInt("PACKET_MAX_MESSAGE", 256),
			PacketTTL:      getenvDuration("PACKET_TTL", 24*time.Hour),

			BombEligibleCounts: getenvInts("BOMB_ELIGIBLE_COUNTS", []int{5, 7, 10}),
			BombsPerPacket:     getenvInt("BOMB_PER_PACKET", 1),
			BombPenaltyBps:     getenvInt64("BOMB_PENALTY_BPS", 15000),
			BombMaxMultiple:    getenvInt64("BOMB_MAX_MULTIPLE", 3),
			AllowBombDebt:      getenvBool("BOMB_ALLOW_DEBT", true),

			RewardCurrency:     getenv("REWARD_CURRENCY", "CNY"),
			InviterBonus:       getenvInt64("INVITE_INVITER_BONUS", 500),
			InviteeBonus:       getenvInt64("INVITE_INVITEE_BONUS", 200),
			CommissionTier1Bps: getenvInt64("INVITE_COMMISSION_T1_BPS", 500),
			CommissionTier2Bps: getenvInt64("INVITE_COMMISSION_T2_BPS", 100),
			Milestones: []Milestone{
				{Threshold: 5, Bonus: 1000},
				{Threshold: 10, Bonus: 2500},
				{Threshold: 25, Bonus: 8000},
				{Threshold: 50, Bonus: 20000},
				{Threshold: 100, Bonus: 50000},
			},

			ClaimRetries: getenvInt("CLAIM_CAS_RETRIES", 5),
		},
	}
}

// DB maps the flat env fields onto the storage config.
func (c Config) DB() db.Config {
	return db.Config{
		Type:            c.DBType,
		Host:            c.DBHost,
		Port:            c.DBPort,
		Name:            c.DBName,
		User:            c.DBUser,
		Password:        c.DBPassword,
		SSLMode:         c.DBSSLMode,
		MaxIdleConn:     c.DBMaxIdleConn,
		MaxOpenConn:     c.DBMaxOpenConn,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		ConnMaxIdleTime: c.DBConnMaxIdleTime,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInts(key string, def []int) []int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return def
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
