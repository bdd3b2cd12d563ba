package cfg

type Cfg struct {
	// Storage
	DBPath      string
	ServicesDir string
	AvatarDir   string
	AvatarURL   string

	// Polling
	MaxWorkers    int
	PollInterval  int
	WorkerTimeout int
	SourceTag     string

	// Remote access
	UserAgent        string
	RequestRate      float64
	BreakerThreshold int
	BreakerDelay     int

	// Seen-URI cache
	RedisAddr   string
	URICacheTTL int

	// Ops API
	Port         string
	APIAccessKey string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
