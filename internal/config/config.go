// Package config loads enet settings from defaults, an optional YAML file,
// ENET_* environment variables and command line flags, in rising order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/die-net/enet/internal/conn"
	"github.com/die-net/enet/internal/dialer"
	"github.com/die-net/enet/internal/host"
	"github.com/die-net/enet/internal/logging"
)

// Config is the root application configuration.
type Config struct {
	// Listen is the local UDP address.
	Listen string `mapstructure:"listen"`
	// Connect, when set, is the peer to connect to at startup.
	Connect string `mapstructure:"connect"`
	// Channels is the channel count requested when connecting.
	Channels int `mapstructure:"channels"`

	// Upstream is direct:// or socks5://[user:pass@]host:port.
	Upstream     string        `mapstructure:"upstream"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	TCPKeepAlive string        `mapstructure:"tcp_keepalive"`

	Host   HostConfig     `mapstructure:"host"`
	Socket SocketConfig   `mapstructure:"socket"`
	Log    logging.Config `mapstructure:"log"`
}

// HostConfig mirrors host.Config. Zero values select the host defaults.
type HostConfig struct {
	PeerCount            int    `mapstructure:"peer_count"`
	ChannelLimit         int    `mapstructure:"channel_limit"`
	MTU                  uint32 `mapstructure:"mtu"`
	IncomingBandwidth    uint32 `mapstructure:"incoming_bandwidth"`
	OutgoingBandwidth    uint32 `mapstructure:"outgoing_bandwidth"`
	ThrottleInterval     uint32 `mapstructure:"throttle_interval"`
	ThrottleAcceleration uint32 `mapstructure:"throttle_acceleration"`
	ThrottleDeceleration uint32 `mapstructure:"throttle_deceleration"`
	PingInterval         uint32 `mapstructure:"ping_interval"`
	MaxTimeout           uint32 `mapstructure:"max_timeout"`
	RetryLimit           int    `mapstructure:"retry_limit"`
	ConnectRetryLimit    int    `mapstructure:"connect_retry_limit"`
}

type SocketConfig struct {
	ReadBuffer  int  `mapstructure:"read_buffer"`
	WriteBuffer int  `mapstructure:"write_buffer"`
	ReuseAddr   bool `mapstructure:"reuse_addr"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Listen:       "0.0.0.0:7777",
		Channels:     1,
		Upstream:     defaultUpstream(),
		DialTimeout:  10 * time.Second,
		TCPKeepAlive: "45:45:3",
		Host: HostConfig{
			PeerCount:         host.DefaultPeerCount,
			MTU:               host.DefaultMTU,
			PingInterval:      host.DefaultPingInterval,
			MaxTimeout:        host.DefaultMaxTimeout,
			RetryLimit:        host.DefaultRetryLimit,
			ConnectRetryLimit: host.DefaultConnectRetryLimit,
		},
		Log: logging.Config{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: logging.RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":             "listen",
	"connect":            "connect",
	"channels":           "channels",
	"upstream":           "upstream",
	"dial-timeout":       "dial_timeout",
	"tcp-keepalive":      "tcp_keepalive",
	"peers":              "host.peer_count",
	"mtu":                "host.mtu",
	"incoming-bandwidth": "host.incoming_bandwidth",
	"outgoing-bandwidth": "host.outgoing_bandwidth",
	"ping-interval":      "host.ping_interval",
	"max-timeout":        "host.max_timeout",
	"socket-rcvbuf":      "socket.read_buffer",
	"socket-sndbuf":      "socket.write_buffer",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"log-output":         "log.outputs",
}

// RegisterFlags defines the command line flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML config file. Empty searches ./enet.yaml and ./configs/enet.yaml")
	fs.String("listen", d.Listen, "Local UDP listen address")
	fs.String("connect", "", "Peer address to connect to at startup (e.g. 192.0.2.1:7777). Empty waits for peers.")
	fs.Int("channels", d.Channels, "Channel count requested when connecting")
	fs.String("upstream", d.Upstream, "Upstream: direct:// | socks5://[user:pass@]host:port")
	fs.Duration("dial-timeout", d.DialTimeout, "Timeout for the proxy control connection")
	fs.String("tcp-keepalive", d.TCPKeepAlive, "TCP keepalive for the proxy control connection: on|off|keepidle:keepintvl:keepcnt")
	fs.Int("peers", d.Host.PeerCount, "Maximum number of peers")
	fs.Uint32("mtu", d.Host.MTU, "Maximum datagram size")
	fs.Uint32("incoming-bandwidth", 0, "Incoming bandwidth cap in bytes/second; 0 is unlimited")
	fs.Uint32("outgoing-bandwidth", 0, "Outgoing bandwidth cap in bytes/second; 0 is unlimited")
	fs.Uint32("ping-interval", d.Host.PingInterval, "Keep-alive interval in milliseconds")
	fs.Uint32("max-timeout", d.Host.MaxTimeout, "Cap in milliseconds on the backoff between retransmissions")
	fs.Int("socket-rcvbuf", 0, "UDP receive buffer size; 0 keeps the system default")
	fs.Int("socket-sndbuf", 0, "UDP send buffer size; 0 keeps the system default")
	fs.String("log-level", d.Log.Level, "Log level: debug|info|warn|error")
	fs.String("log-format", d.Log.Format, "Log format: console|json")
	fs.StringSlice("log-output", d.Log.Outputs, "Log outputs: stdout, stderr, or file paths")
}

// Load reads configuration from path (if non-empty) or the usual search
// locations. Environment variables use the prefix ENET with `.` and `-`
// replaced by `_`, e.g. ENET_HOST_MTU=1200. Flags in fs that were set on the
// command line override everything else.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("connect", cfg.Connect)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("upstream", cfg.Upstream)
	v.SetDefault("dial_timeout", cfg.DialTimeout)
	v.SetDefault("tcp_keepalive", cfg.TCPKeepAlive)
	v.SetDefault("host.peer_count", cfg.Host.PeerCount)
	v.SetDefault("host.channel_limit", cfg.Host.ChannelLimit)
	v.SetDefault("host.mtu", cfg.Host.MTU)
	v.SetDefault("host.incoming_bandwidth", cfg.Host.IncomingBandwidth)
	v.SetDefault("host.outgoing_bandwidth", cfg.Host.OutgoingBandwidth)
	v.SetDefault("host.throttle_interval", cfg.Host.ThrottleInterval)
	v.SetDefault("host.throttle_acceleration", cfg.Host.ThrottleAcceleration)
	v.SetDefault("host.throttle_deceleration", cfg.Host.ThrottleDeceleration)
	v.SetDefault("host.ping_interval", cfg.Host.PingInterval)
	v.SetDefault("host.max_timeout", cfg.Host.MaxTimeout)
	v.SetDefault("host.retry_limit", cfg.Host.RetryLimit)
	v.SetDefault("host.connect_retry_limit", cfg.Host.ConnectRetryLimit)
	v.SetDefault("socket.read_buffer", cfg.Socket.ReadBuffer)
	v.SetDefault("socket.write_buffer", cfg.Socket.WriteBuffer)
	v.SetDefault("socket.reuse_addr", cfg.Socket.ReuseAddr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path == "" {
		path = os.Getenv("ENET_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("enet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that are not checked where they are used.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("invalid listen: empty")
	}
	if c.Channels < 1 {
		return fmt.Errorf("invalid channels: %d", c.Channels)
	}
	if _, err := dialer.Parse(c.Upstream); err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}
	if _, err := c.KeepAlive(); err != nil {
		return fmt.Errorf("invalid tcp_keepalive: %w", err)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("invalid dial_timeout: %s", c.DialTimeout)
	}
	return nil
}

// HostSettings returns the host settings.
func (c *Config) HostSettings() host.Config {
	h := c.Host
	return host.Config{
		PeerCount:            h.PeerCount,
		ChannelLimit:         h.ChannelLimit,
		MTU:                  h.MTU,
		IncomingBandwidth:    h.IncomingBandwidth,
		OutgoingBandwidth:    h.OutgoingBandwidth,
		ThrottleInterval:     h.ThrottleInterval,
		ThrottleAcceleration: h.ThrottleAcceleration,
		ThrottleDeceleration: h.ThrottleDeceleration,
		PingInterval:         h.PingInterval,
		MaxTimeout:           h.MaxTimeout,
		RetryLimit:           h.RetryLimit,
		ConnectRetryLimit:    h.ConnectRetryLimit,
	}
}

// SocketOptions returns the UDP socket options.
func (c *Config) SocketOptions() conn.UDPOptions {
	return conn.UDPOptions{
		ReadBuffer:  c.Socket.ReadBuffer,
		WriteBuffer: c.Socket.WriteBuffer,
		ReuseAddr:   c.Socket.ReuseAddr,
	}
}
