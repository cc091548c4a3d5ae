package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

const (
	// ServerUrlKey is the key to customize the endpoint of the Electrum server
	// in the form scheme://host:port. Supported schemes are tcp, tls (or ssl),
	// tor, ws and wss.
	ServerUrlKey = "SERVER_URL"
	// NetworkKey is the key to customize the network of the addresses.
	NetworkKey = "NETWORK"
	// AddressTypeKey is the key to customize the type of the addresses derived
	// from extended keys not committing to any type (xpub, tpub).
	AddressTypeKey = "ADDRESS_TYPE"
	// ClientNameKey is the key to customize the name sent to the server on
	// handshake.
	ClientNameKey = "CLIENT_NAME"
	// ProtocolVersionKey is the key to customize the protocol version, either a
	// single version or a comma separated min,max range.
	ProtocolVersionKey = "PROTOCOL_VERSION"
	// ConnectTimeoutKey is the key to customize the timeout in seconds of a
	// connection attempt.
	ConnectTimeoutKey = "CONNECT_TIMEOUT"
	// SocketKeepAliveKey is the key to enable TCP keep-alive probes.
	SocketKeepAliveKey = "SOCKET_KEEP_ALIVE"
	// KeepAliveIntervalKey is the key to customize the interval in seconds of
	// the pings sent to the server when idle.
	KeepAliveIntervalKey = "KEEP_ALIVE_INTERVAL"
	// TorProxyKey is the key to customize the SOCKS5 proxy used for tor
	// endpoints.
	TorProxyKey = "TOR_PROXY"
	// GapLimitKey is the key to customize the number of consecutive unused
	// addresses after which discovery stops.
	GapLimitKey = "GAP_LIMIT"
	// MaxRetryKey is the key to customize the number of reconnection attempts
	// after the connection drops. Zero disables reconnection.
	MaxRetryKey = "MAX_RETRY"
	// RetryBackoffKey is the key to customize the delay in seconds before the
	// first reconnection attempt.
	RetryBackoffKey = "RETRY_BACKOFF"
	// CacheTypeKey is the key to customize the type of storage used to cache
	// confirmed transactions.
	CacheTypeKey = "CACHE_TYPE"
	// DatadirKey is the key to customize the datadir.
	DatadirKey = "DATADIR"
	// LogLevelKey is the key to customize the log level to catch more specific
	// or more high level logs.
	LogLevelKey = "LOG_LEVEL"
	// DebugKey is the key to enable the tracing of every message exchanged with
	// the server.
	DebugKey = "DEBUG"
	// MetricsPortKey is the key to customize the port where metrics and
	// profiling data are served.
	MetricsPortKey = "METRICS_PORT"
	// NoMetricsKey is the key to disable the metrics server.
	NoMetricsKey = "NO_METRICS"
	// StatsIntervalKey is the key to customize the interval in seconds for the
	// profiler to gather memory stats.
	StatsIntervalKey = "STATS_INTERVAL"

	// DbLocation is the folder inside the datadir containing db files.
	DbLocation = "db"
	// ProfilerLocation is the folder inside the datadir containing profiler
	// stats files.
	ProfilerLocation = "stats"
)

var (
	vip *viper.Viper

	defaultServerUrl         = "tcp://127.0.0.1:50001"
	defaultNetwork           = "bitcoin"
	defaultClientName        = "electrum-link"
	defaultProtocolVersion   = "1.4"
	defaultConnectTimeout    = 10
	defaultKeepAliveInterval = 120
	defaultTorProxy          = "127.0.0.1:9050"
	defaultGapLimit          = 20
	defaultRetryBackoff      = 1
	defaultCacheType         = "inmemory"
	defaultDatadir           = btcutil.AppDataDir("electrum-link", false)
	defaultLogLevel          = 4
	defaultMetricsPort       = 18010
	defaultStatsInterval     = 600 // 10 minutes

	SupportedNetworks = supportedType{
		"bitcoin":       {},
		"testnet":       {},
		"regtest":       {},
		"liquid":        {},
		"liquidtestnet": {},
	}
	SupportedAddressTypes = supportedType{
		"p2pkh":       {},
		"p2sh-p2wpkh": {},
		"p2wpkh":      {},
	}
	SupportedCaches = supportedType{
		"inmemory": {},
		"badger":   {},
	}
)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("ELECTRUM")
	vip.AutomaticEnv()

	vip.SetDefault(ServerUrlKey, defaultServerUrl)
	vip.SetDefault(NetworkKey, defaultNetwork)
	vip.SetDefault(ClientNameKey, defaultClientName)
	vip.SetDefault(ProtocolVersionKey, defaultProtocolVersion)
	vip.SetDefault(ConnectTimeoutKey, defaultConnectTimeout)
	vip.SetDefault(SocketKeepAliveKey, true)
	vip.SetDefault(KeepAliveIntervalKey, defaultKeepAliveInterval)
	vip.SetDefault(TorProxyKey, defaultTorProxy)
	vip.SetDefault(GapLimitKey, defaultGapLimit)
	vip.SetDefault(MaxRetryKey, 0)
	vip.SetDefault(RetryBackoffKey, defaultRetryBackoff)
	vip.SetDefault(CacheTypeKey, defaultCacheType)
	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, defaultLogLevel)
	vip.SetDefault(DebugKey, false)
	vip.SetDefault(MetricsPortKey, defaultMetricsPort)
	vip.SetDefault(NoMetricsKey, false)
	vip.SetDefault(StatsIntervalKey, defaultStatsInterval)

	if err := Validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}
}

// Validate checks the current configuration. It must be called again after
// overriding any value with Set.
func Validate() error {
	if len(GetString(ServerUrlKey)) <= 0 {
		return fmt.Errorf("server url must not be null")
	}

	net := GetString(NetworkKey)
	if _, ok := SupportedNetworks[net]; !ok {
		return fmt.Errorf("unknown network, must be one of %s", SupportedNetworks)
	}

	if addrType := GetString(AddressTypeKey); addrType != "" {
		if _, ok := SupportedAddressTypes[addrType]; !ok {
			return fmt.Errorf(
				"unknown address type, must be one of %s", SupportedAddressTypes,
			)
		}
	}

	if l := len(GetProtocolVersion()); l <= 0 || l > 2 {
		return fmt.Errorf(
			"protocol version must be either a single version or a min,max range",
		)
	}

	if GetInt(ConnectTimeoutKey) <= 0 {
		return fmt.Errorf("connect timeout must be greater than zero")
	}
	if GetInt(KeepAliveIntervalKey) <= 0 {
		return fmt.Errorf("keep alive interval must be greater than zero")
	}
	if GetInt(GapLimitKey) <= 0 {
		return fmt.Errorf("gap limit must be greater than zero")
	}
	if GetInt(MaxRetryKey) < 0 {
		return fmt.Errorf("max retry must not be negative")
	}

	cacheType := GetString(CacheTypeKey)
	if _, ok := SupportedCaches[cacheType]; !ok {
		return fmt.Errorf("unsupported cache type, must be one of %s", SupportedCaches)
	}
	if cacheType == "badger" && len(GetString(DatadirKey)) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	if !GetBool(NoMetricsKey) {
		port := GetInt(MetricsPortKey)
		if port < 1024 || port > 49151 {
			return fmt.Errorf("metrics port must be in range [1024, 49151]")
		}
	}

	return nil
}

func GetDatadir() string {
	return filepath.Join(GetString(DatadirKey), GetString(NetworkKey))
}

// GetProtocolVersion returns the configured version, or the [min, max] range.
func GetProtocolVersion() []string {
	versions := make([]string, 0, 2)
	for _, v := range strings.Split(GetString(ProtocolVersionKey), ",") {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}
	return versions
}

// GetDuration returns the value of a key expressed in seconds.
func GetDuration(key string) time.Duration {
	return time.Duration(GetInt(key)) * time.Second
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetStringSlice(key string) []string {
	return vip.GetStringSlice(key)
}

func Set(key string, val interface{}) {
	vip.Set(key, val)
}

func Unset(key string) {
	vip.Set(key, nil)
}

func IsSet(key string) bool {
	return vip.IsSet(key)
}

// InitDatadir creates the folders required by the current configuration.
func InitDatadir() error {
	datadir := GetDatadir()
	if GetString(CacheTypeKey) == "badger" {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
			return err
		}
	}

	if GetBool(NoMetricsKey) {
		return nil
	}
	return makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}
