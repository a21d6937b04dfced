package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	ListenAddr        string // listen addr for the http/websocket server
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules applied to the json logger
	NatsURL           string // if set, envelopes are relayed via this NATS server
	WaitForServices   string // duration to wait for other services to be ready
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry
	ProfilingPort     int    // port for profiling
	HeartbeatInterval string // interval between heartbeat envelopes
	SessionTimeout    string // a session without activity for this duration is evicted
	DedupWindow       string // duration a correlation id is remembered per subscriber
	SubscriberQueue   int    // outbound queue size per subscriber
	AdminUser         string // username of the built-in admin account
	AdminPassword     string // password of the built-in admin account
	ViewerPassword    string // if set, enables the read-only viewer account
)
