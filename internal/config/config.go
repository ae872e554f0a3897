package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	LogFormat     string              `json:"log_format" yaml:"log_format"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Scoring       ScoringConfig       `json:"scoring" yaml:"scoring"`
	Timeline      TimelineConfig      `json:"timeline" yaml:"timeline"`
	AccessControl AccessControlConfig `json:"access_control" yaml:"access_control"`
	API           APIConfig           `json:"api" yaml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
	Alerts        AlertsConfig        `json:"alerts" yaml:"alerts"`
	Generator     GeneratorConfig     `json:"generator" yaml:"generator"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig   `json:"parser" yaml:"parser"`
	DedupeWindow  time.Duration  `json:"dedupe_window" yaml:"dedupe_window"`
}

// RESTConfig toggles POST /transactions on the API listener.
type RESTConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone             string `json:"timezone" yaml:"timezone"`
	DefaultPaymentMethod string `json:"default_payment_method" yaml:"default_payment_method"`
}

type ScoringConfig struct {
	DefaultLookbackDays int           `json:"default_lookback_days" yaml:"default_lookback_days"`
	MaxLookbackDays     int           `json:"max_lookback_days" yaml:"max_lookback_days"`
	Timezone            string        `json:"timezone" yaml:"timezone"`
	Weights             WeightsConfig `json:"weights" yaml:"weights"`
	AutoRescore         bool          `json:"auto_rescore" yaml:"auto_rescore"`
	RescoreCooldown     time.Duration `json:"rescore_cooldown" yaml:"rescore_cooldown"`
}

type WeightsConfig struct {
	LateNight             float64 `json:"late_night" yaml:"late_night"`
	SuddenSpike           float64 `json:"sudden_spike" yaml:"sudden_spike"`
	VelocityAbuse         float64 `json:"velocity_abuse" yaml:"velocity_abuse"`
	DeviceSwitching       float64 `json:"device_switching" yaml:"device_switching"`
	LocationHopping       float64 `json:"location_hopping" yaml:"location_hopping"`
	PaymentCycling        float64 `json:"payment_cycling" yaml:"payment_cycling"`
	RoundAmount           float64 `json:"round_amount" yaml:"round_amount"`
	CustomerConcentration float64 `json:"customer_concentration" yaml:"customer_concentration"`
}

func (w WeightsConfig) Sum() float64 {
	return w.LateNight + w.SuddenSpike + w.VelocityAbuse + w.DeviceSwitching +
		w.LocationHopping + w.PaymentCycling + w.RoundAmount + w.CustomerConcentration
}

type TimelineConfig struct {
	MaxRangeDays int           `json:"max_range_days" yaml:"max_range_days"`
	Publish      PublishConfig `json:"publish" yaml:"publish"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// AccessControlConfig gates which merchants' transactions are accepted at ingest.
type AccessControlConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	AllowlistOnly bool     `json:"allowlist_only" yaml:"allowlist_only"`
	Allowlist     []string `json:"allowlist" yaml:"allowlist"`
	Blocklist     []string `json:"blocklist" yaml:"blocklist"`
}

type APIConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type CacheConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type GeneratorConfig struct {
	Days      int     `json:"days" yaml:"days"`
	DailyMin  int     `json:"daily_min" yaml:"daily_min"`
	DailyMax  int     `json:"daily_max" yaml:"daily_max"`
	AmountMin float64 `json:"amount_min" yaml:"amount_min"`
	AmountMax float64 `json:"amount_max" yaml:"amount_max"`
	Seed      int64   `json:"seed" yaml:"seed"`
}

func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		LateNight:             0.15,
		SuddenSpike:           0.15,
		VelocityAbuse:         0.15,
		DeviceSwitching:       0.10,
		LocationHopping:       0.10,
		PaymentCycling:        0.10,
		RoundAmount:           0.10,
		CustomerConcentration: 0.15,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
			DedupeWindow:  10 * time.Minute,
		},
		Scoring: ScoringConfig{
			DefaultLookbackDays: 30,
			MaxLookbackDays:     365,
			Timezone:            "UTC",
			Weights:             DefaultWeights(),
			AutoRescore:         false,
			RescoreCooldown:     time.Minute,
		},
		Timeline: TimelineConfig{
			MaxRangeDays: 90,
		},
		API:       APIConfig{Enabled: true, Addr: ":8000", ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second},
		Storage:   StorageConfig{Enabled: true, Driver: "sqlite", DSN: "file:merchantrisk.db?_pragma=busy_timeout(5000)"},
		Cache:     CacheConfig{Enabled: false, Addr: "localhost:6379", TTL: 10 * time.Minute},
		Metrics:   MetricsConfig{StoreLimit: 5000},
		Alerts:    AlertsConfig{StoreLimit: 1000},
		Generator: GeneratorConfig{Days: 30, DailyMin: 10, DailyMax: 50, AmountMin: 100, AmountMax: 10000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Scoring.Timezone == "" {
		cfg.Scoring.Timezone = "UTC"
	}
	if cfg.Scoring.DefaultLookbackDays <= 0 {
		cfg.Scoring.DefaultLookbackDays = 30
	}
	if cfg.Scoring.MaxLookbackDays <= 0 {
		cfg.Scoring.MaxLookbackDays = 365
	}
	if cfg.Scoring.Weights == (WeightsConfig{}) {
		cfg.Scoring.Weights = DefaultWeights()
	}
	if cfg.Timeline.MaxRangeDays <= 0 {
		cfg.Timeline.MaxRangeDays = 90
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
	if cfg.Generator.Days <= 0 {
		cfg.Generator.Days = 30
	}
	if cfg.Generator.DailyMin <= 0 {
		cfg.Generator.DailyMin = 10
	}
	if cfg.Generator.DailyMax < cfg.Generator.DailyMin {
		cfg.Generator.DailyMax = cfg.Generator.DailyMin
	}
	if cfg.Generator.AmountMin <= 0 {
		cfg.Generator.AmountMin = 100
	}
	if cfg.Generator.AmountMax <= cfg.Generator.AmountMin {
		cfg.Generator.AmountMax = math.Max(10000, cfg.Generator.AmountMin*10)
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && !cfg.API.Enabled {
		return errors.New("ingest.rest requires api.enabled")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Timeline.Publish.Enabled {
		if len(cfg.Timeline.Publish.Brokers) == 0 || cfg.Timeline.Publish.Topic == "" {
			return errors.New("timeline.publish requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr required when cache.enabled is true")
	}
	if sum := cfg.Scoring.Weights.Sum(); math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("scoring.weights must sum to 1.0, got %.4f", sum)
	}
	if cfg.Scoring.DefaultLookbackDays > cfg.Scoring.MaxLookbackDays {
		return errors.New("scoring.default_lookback_days exceeds scoring.max_lookback_days")
	}
	for _, tz := range []string{cfg.Scoring.Timezone, cfg.Ingest.Parser.Timezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
