package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Distance   DistanceConfig
	Assignment AssignmentConfig
	Export     ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DistanceConfig configures the Kakao routing client and its daily quotas.
type DistanceConfig struct {
	MobilityAPIKey    string
	LocalAPIKey       string
	MobilityBaseURL   string
	LocalBaseURL      string
	DailyRouteLimit   int
	DailyGeocodeLimit int
	ProviderTimeout   time.Duration
	RequestsPerSecond float64
	WarmerWorkers     int
	WarmerBufferSize  int
	BatchInterval     time.Duration
	BatchSize         int
}

// AssignmentConfig governs candidate aggregation and caching.
type AssignmentConfig struct {
	MaxRangeDays     int
	CacheEnabled     bool
	CandidatesTTL    time.Duration
	WarmOnCandidates bool
}

// ExportConfig configures work-history exports.
type ExportConfig struct {
	PDFFontPath string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Distance = DistanceConfig{
		MobilityAPIKey:    v.GetString("KAKAO_MOBILITY_API_KEY"),
		LocalAPIKey:       v.GetString("KAKAO_REST_API_KEY"),
		MobilityBaseURL:   v.GetString("KAKAO_MOBILITY_BASE_URL"),
		LocalBaseURL:      v.GetString("KAKAO_LOCAL_BASE_URL"),
		DailyRouteLimit:   v.GetInt("DISTANCE_DAILY_ROUTE_LIMIT"),
		DailyGeocodeLimit: v.GetInt("DISTANCE_DAILY_GEOCODE_LIMIT"),
		ProviderTimeout:   parseDuration(v.GetString("DISTANCE_PROVIDER_TIMEOUT"), 3*time.Second),
		RequestsPerSecond: v.GetFloat64("DISTANCE_PROVIDER_RPS"),
		WarmerWorkers:     v.GetInt("DISTANCE_WARMER_WORKERS"),
		WarmerBufferSize:  v.GetInt("DISTANCE_WARMER_BUFFER"),
		BatchInterval:     parseDuration(v.GetString("DISTANCE_BATCH_INTERVAL"), 0),
		BatchSize:         v.GetInt("DISTANCE_BATCH_SIZE"),
	}

	cfg.Assignment = AssignmentConfig{
		MaxRangeDays:     v.GetInt("ASSIGNMENT_MAX_RANGE_DAYS"),
		CacheEnabled:     v.GetBool("ENABLE_CANDIDATE_CACHE"),
		CandidatesTTL:    parseDuration(v.GetString("CANDIDATES_CACHE_TTL"), 2*time.Minute),
		WarmOnCandidates: v.GetBool("WARM_DISTANCES_ON_CANDIDATES"),
	}

	cfg.Export = ExportConfig{PDFFontPath: v.GetString("EXPORT_PDF_FONT_PATH")}

	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("TIMEZONE", "Asia/Seoul")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "instructor_dispatch")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("KAKAO_MOBILITY_API_KEY", "")
	v.SetDefault("KAKAO_REST_API_KEY", "")
	v.SetDefault("KAKAO_MOBILITY_BASE_URL", "https://apis-navi.kakaomobility.com/v1")
	v.SetDefault("KAKAO_LOCAL_BASE_URL", "https://dapi.kakao.com/v2/local")
	v.SetDefault("DISTANCE_DAILY_ROUTE_LIMIT", 9000)
	v.SetDefault("DISTANCE_DAILY_GEOCODE_LIMIT", 900)
	v.SetDefault("DISTANCE_PROVIDER_TIMEOUT", "3s")
	v.SetDefault("DISTANCE_PROVIDER_RPS", 10)
	v.SetDefault("DISTANCE_WARMER_WORKERS", 2)
	v.SetDefault("DISTANCE_WARMER_BUFFER", 256)
	v.SetDefault("DISTANCE_BATCH_INTERVAL", "")
	v.SetDefault("DISTANCE_BATCH_SIZE", 200)

	v.SetDefault("ASSIGNMENT_MAX_RANGE_DAYS", 62)
	v.SetDefault("ENABLE_CANDIDATE_CACHE", false)
	v.SetDefault("CANDIDATES_CACHE_TTL", "2m")
	v.SetDefault("WARM_DISTANCES_ON_CANDIDATES", true)

	v.SetDefault("EXPORT_PDF_FONT_PATH", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
