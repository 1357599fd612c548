package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string

	BotPrefix string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string

	EgressMode  string
	DryRun      bool
	MessagesDir string

	AllowedRooms []string
	// AdminUsers may run operator commands such as granting buffs.
	AdminUsers []string

	Duel DuelConfig
}

// DuelConfig holds game tunables, read from DUEL_* variables.
type DuelConfig struct {
	MaxHP          int     `env:"DUEL_MAX_HP" envDefault:"4"`
	MaxAmmo        int     `env:"DUEL_MAX_AMMO" envDefault:"3"`
	BaseAccuracy   float64 `env:"DUEL_BASE_ACCURACY" envDefault:"0.35"`
	MaxAccuracy    float64 `env:"DUEL_MAX_ACCURACY" envDefault:"0.85"`
	AimBonus       float64 `env:"DUEL_AIM_BONUS" envDefault:"0.15"`
	HealAmount     int     `env:"DUEL_HEAL_AMOUNT" envDefault:"2"`
	DodgePenalty   float64 `env:"DUEL_DODGE_PENALTY" envDefault:"0.20"`
	FumbleChance   float64 `env:"DUEL_FUMBLE_CHANCE" envDefault:"0.05"`
	CritChance     float64 `env:"DUEL_CRIT_CHANCE" envDefault:"0.10"`
	AimedCrit      float64 `env:"DUEL_AIMED_CRIT_CHANCE" envDefault:"0.35"`
	Damage         int     `env:"DUEL_DAMAGE" envDefault:"1"`
	CritDamage     int     `env:"DUEL_CRIT_DAMAGE" envDefault:"2"`
	NearMissMargin float64 `env:"DUEL_NEAR_MISS_MARGIN" envDefault:"0.05"`

	AcceptTimeout    time.Duration `env:"DUEL_ACCEPT_TIMEOUT" envDefault:"2m"`
	RoundDuration    time.Duration `env:"DUEL_ROUND_DURATION" envDefault:"60s"`
	RoundStep        time.Duration `env:"DUEL_ROUND_STEP" envDefault:"10s"`
	RoundFloor       time.Duration `env:"DUEL_ROUND_FLOOR" envDefault:"20s"`
	ReputationReward int64         `env:"DUEL_REPUTATION_REWARD" envDefault:"10"`
	MaxAttempts      int           `env:"DUEL_CAS_ATTEMPTS" envDefault:"5"`
	SweepInterval    time.Duration `env:"DUEL_SWEEP_INTERVAL" envDefault:"5s"`
	SweepBatch       int           `env:"DUEL_SWEEP_BATCH" envDefault:"100"`
	Retention        time.Duration `env:"DUEL_RETENTION" envDefault:"24h"`
	MaxStake         int64         `env:"DUEL_MAX_STAKE" envDefault:"10000"`
	StartBalance     int64         `env:"DUEL_START_BALANCE" envDefault:"1000"`
	MaxBuff          float64       `env:"DUEL_MAX_BUFF" envDefault:"0.5"`
	EditInterval     time.Duration `env:"DUEL_EDIT_INTERVAL" envDefault:"2s"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{EgressMode: "http"}

	cfg.IrisBaseURL = strings.TrimSpace(os.Getenv("IRIS_BASE_URL"))
	cfg.IrisWSURL = strings.TrimSpace(os.Getenv("IRIS_WS_URL"))
	cfg.BotPrefix = strings.TrimSpace(os.Getenv("BOT_PREFIX"))

	cfg.XUserID = strings.TrimSpace(os.Getenv("X_USER_ID"))
	cfg.XUserEmail = strings.TrimSpace(os.Getenv("X_USER_EMAIL"))
	cfg.XSessionID = strings.TrimSpace(os.Getenv("X_SESSION_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("EGRESS_MODE"))); v != "" {
		cfg.EgressMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DRYRUN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.AllowedRooms = splitList(os.Getenv("ALLOWED_ROOMS"))
	cfg.AdminUsers = splitList(os.Getenv("ADMIN_USERS"))

	if err := env.Parse(&cfg.Duel); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.IrisBaseURL == "" {
		return nil, errors.New("IRIS_BASE_URL is required")
	}
	if cfg.IrisWSURL == "" {
		return nil, errors.New("IRIS_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if err := cfg.Duel.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d DuelConfig) validate() error {
	switch {
	case d.MaxHP <= 0 || d.MaxAmmo <= 0:
		return errors.New("DUEL_MAX_HP and DUEL_MAX_AMMO must be positive")
	case d.BaseAccuracy <= 0 || d.MaxAccuracy > 1 || d.BaseAccuracy > d.MaxAccuracy:
		return errors.New("DUEL_BASE_ACCURACY must be in (0, DUEL_MAX_ACCURACY]")
	case d.RoundFloor <= 0 || d.RoundDuration < d.RoundFloor:
		return errors.New("DUEL_ROUND_DURATION must be at least DUEL_ROUND_FLOOR")
	case d.StartBalance < 0 || d.MaxStake < 0:
		return errors.New("DUEL_START_BALANCE and DUEL_MAX_STAKE must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RoomAllowed reports whether the bot should answer in room.
func (c *AppConfig) RoomAllowed(room string) bool {
	if len(c.AllowedRooms) == 0 {
		return true
	}
	for _, r := range c.AllowedRooms {
		if r == room {
			return true
		}
	}
	return false
}

func (c *AppConfig) IsAdmin(userID string) bool {
	for _, u := range c.AdminUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// RedisOptions turns a redis:// or rediss:// URL into client options.
func RedisOptions(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
