package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// database
	DBDriver   string // mysql or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string // sqlite file, used when DBDriver == "sqlite"

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	// MIDI device link
	MIDIPort    string // substring of the output port name
	MIDIMapping string // optional YAML control map

	// Browser navigation timing. These are contracts with the mixing
	// application, undershooting them loses commands.
	GroundMoves    int
	CollapsePasses int
	GroundDelay    time.Duration
	MoveDelay      time.Duration
	FolderDelay    time.Duration
	ExpandDelay    time.Duration
	FolderLayout   []int // positions of folders in the collapsed root list

	// Mixing
	PreloadBars        float64
	MixBars            float64
	CrossfadeSteps     int
	CrossfadeStepDelay time.Duration
	PlayVolume         int
	PreCue             bool
	PollInterval       time.Duration

	// Matcher
	TolerancePct       float64
	RelaxFactor        float64
	DefaultTempo       float64
	DefaultKey         string
	DefaultTrackLength time.Duration // used when a track has no duration

	// Session
	MaxTracks        int
	EnergyTrajectory string // "120-124,124-128,128-132"

	// HTTP
	HTTPAddr     string
	APISecret    string
	TokenTTL     time.Duration
	ReportBucket string

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string

	// logging
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("350ms") or plain milliseconds ("350").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvInts(key string) []int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "deckpilot"),
		DBPath:     getEnv("DB_PATH", "deckpilot.db"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // no password by default
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),

		MIDIPort:    getEnv("MIDI_PORT", "DeckPilot"),
		MIDIMapping: getEnv("MIDI_MAPPING", ""),

		GroundMoves:    getEnvInt("NAV_GROUND_MOVES", 200),
		CollapsePasses: getEnvInt("NAV_COLLAPSE_PASSES", 8),
		GroundDelay:    getEnvDuration("NAV_GROUND_DELAY", 30*time.Millisecond),
		MoveDelay:      getEnvDuration("NAV_MOVE_DELAY", 300*time.Millisecond),
		FolderDelay:    getEnvDuration("NAV_FOLDER_DELAY", 800*time.Millisecond),
		ExpandDelay:    getEnvDuration("NAV_EXPAND_DELAY", 800*time.Millisecond),
		FolderLayout:   getEnvInts("NAV_FOLDERS"),

		PreloadBars:        getEnvFloat("MIX_PRELOAD_BARS", 32),
		MixBars:            getEnvFloat("MIX_START_BARS", 16),
		CrossfadeSteps:     getEnvInt("MIX_CROSSFADE_STEPS", 16),
		CrossfadeStepDelay: getEnvDuration("MIX_CROSSFADE_STEP_DELAY", 500*time.Millisecond),
		PlayVolume:         getEnvInt("MIX_PLAY_VOLUME", 100),
		PreCue:             getEnvBool("MIX_PRECUE", true),
		PollInterval:       getEnvDuration("MIX_POLL_INTERVAL", time.Second),

		TolerancePct:       getEnvFloat("DJ_TEMPO_TOLERANCE", 6.0),
		RelaxFactor:        getEnvFloat("DJ_RELAX_FACTOR", 2.0),
		DefaultTempo:       getEnvFloat("DJ_DEFAULT_TEMPO", 124.0),
		DefaultKey:         getEnv("DJ_DEFAULT_KEY", "8A"),
		DefaultTrackLength: getEnvDuration("DJ_DEFAULT_TRACK_LENGTH", 6*time.Minute),

		MaxTracks:        getEnvInt("DJ_MAX_TRACKS", 0),
		EnergyTrajectory: getEnv("DJ_ENERGY_TRAJECTORY", ""),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		APISecret:    getEnv("DJ_API_SECRET", ""),
		TokenTTL:     getEnvDuration("DJ_TOKEN_TTL", 24*time.Hour),
		ReportBucket: getEnv("DJ_REPORT_BUCKET", "deckpilot-reports"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", "logs/deckpilot.log"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 50),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 14),
	}
}
