package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/timeline.db" description:"SQLite database file"`
	ServicesDir string `long:"services-dir" env:"SERVICES_DIR" default:"./services" description:"Directory containing remote service definitions"`
	AvatarDir   string `long:"avatar-dir" env:"AVATAR_DIR" default:"./avatar" description:"Directory cached avatar files are written to"`
	AvatarURL   string `long:"avatar-base-url" env:"AVATAR_BASE_URL" default:"/avatar/" description:"Public URL prefix for cached avatar files"`

	// Polling
	MaxWorkers    int    `long:"max-workers" env:"MAX_WORKERS" default:"2" description:"Maximum number of concurrent account workers"`
	PollInterval  int    `long:"poll-interval" env:"POLL_INTERVAL" default:"60" description:"Seconds to rest between poll cycles"`
	WorkerTimeout int    `long:"worker-timeout" env:"WORKER_TIMEOUT" default:"300" description:"Seconds a single account worker may run"`
	SourceTag     string `long:"source-tag" env:"SOURCE_TAG" default:"laconica" description:"Source tag of statuses cross-posted from this site (never re-imported)"`

	// Remote access
	UserAgent        string  `long:"user-agent" env:"USER_AGENT" default:"Timeline Sync/1.0" description:"User agent string for HTTP requests"`
	RequestRate      float64 `long:"request-rate" env:"REQUEST_RATE" default:"2" description:"Maximum outbound requests per second (0 disables the limit)"`
	BreakerThreshold int     `long:"breaker-threshold" env:"BREAKER_THRESHOLD" default:"5" description:"Consecutive timeline failures before a service is short-circuited"`
	BreakerDelay     int     `long:"breaker-delay" env:"BREAKER_DELAY" default:"300" description:"Seconds a short-circuited service is left alone"`

	// Seen-URI cache
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the seen-URI cache (optional)"`
	URICacheTTL int    `long:"uri-cache-ttl" env:"URI_CACHE_TTL" default:"86400" description:"Seconds a seen remote URI stays cached"`

	// Ops API
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP port for health, stats and metrics"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments; nil means os.Args.
func LoadArgs(args []string) (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:           raw.DBPath,
		ServicesDir:      raw.ServicesDir,
		AvatarDir:        raw.AvatarDir,
		AvatarURL:        raw.AvatarURL,
		MaxWorkers:       raw.MaxWorkers,
		PollInterval:     raw.PollInterval,
		WorkerTimeout:    raw.WorkerTimeout,
		SourceTag:        raw.SourceTag,
		UserAgent:        raw.UserAgent,
		RequestRate:      raw.RequestRate,
		BreakerThreshold: raw.BreakerThreshold,
		BreakerDelay:     raw.BreakerDelay,
		RedisAddr:        raw.RedisAddr,
		URICacheTTL:      raw.URICacheTTL,
		Port:             raw.Port,
		APIAccessKey:     raw.APIAccessKey,
		Timezone:         raw.Timezone,
		Debug:            raw.Debug,
		Version:          GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1, got %d", cfg.MaxWorkers)
	}

	nonNegativeFields := map[string]int{
		"poll interval":     cfg.PollInterval,
		"worker timeout":    cfg.WorkerTimeout,
		"breaker threshold": cfg.BreakerThreshold,
		"breaker delay":     cfg.BreakerDelay,
		"uri cache ttl":     cfg.URICacheTTL,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if cfg.RequestRate < 0 {
		return fmt.Errorf("request rate must be non-negative")
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
