package appconfig

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/config"
	"github.com/vulpemventures/electrum-link/internal/core/application"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	hdkeychain_address "github.com/vulpemventures/electrum-link/internal/infrastructure/address-service/hdkeychain"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/electrum"
	dbbadger "github.com/vulpemventures/electrum-link/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/storage/db/inmemory"
)

// AppConfig is the struct holding all configuration options for every
// application service (discovery, account, transaction, subscription and
// worker). This data structure acts also as a factory of the mentioned
// application services and the portable services used by them.
// Public config args:
//   - ServerURL - (required) The Electrum server endpoint (scheme://host:port).
//   - Network - (required) The network of the addresses.
//   - AddressType - (optional) The type of the addresses derived from xpubs.
//   - ClientName, ProtocolVersion - (optional) Sent to the server on handshake.
//   - ConnectTimeout, SocketKeepAlive, TorProxy - (optional) Socket options.
//   - KeepAliveInterval - (optional) Interval of the pings sent when idle.
//   - MaxRetry, RetryBackoff - (optional) Reconnection policy, disabled if
//     MaxRetry is zero.
//   - GapLimit - (optional) Discovery gap limit, defaults to 20.
//   - CacheType - (required) One of the supported transaction cache types.
//   - CacheConfig - (optional) The datadir of the cache, required for badger.
//   - Registerer - (optional) Where the client metrics are registered.
type AppConfig struct {
	Version string
	Commit  string
	Date    string

	ServerURL         string
	Network           string
	AddressType       string
	ClientName        string
	ProtocolVersion   []string
	ConnectTimeout    time.Duration
	SocketKeepAlive   bool
	TorProxy          string
	KeepAliveInterval time.Duration
	MaxRetry          int
	RetryBackoff      time.Duration
	GapLimit          uint32
	Debug             bool

	CacheType   string
	CacheConfig interface{}
	Registerer  prometheus.Registerer

	client        *electrum.Client
	addrSvc       ports.AddressService
	txRepo        domain.TransactionRepository
	discovery     *application.Discovery
	accountSvc    *application.AccountService
	txSvc         *application.TransactionService
	subscriptions *application.SubscriptionService
	workerSvc     *application.WorkerService
}

// BuildInfo holds the build details of the binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func (c *AppConfig) Validate() error {
	if len(c.ServerURL) == 0 {
		return fmt.Errorf("missing server url")
	}
	if _, err := electrum.ParseEndpoint(c.ServerURL); err != nil {
		return err
	}
	if len(c.Network) == 0 {
		return fmt.Errorf("missing network")
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("max retry must not be negative")
	}
	if len(c.CacheType) == 0 {
		return fmt.Errorf("missing cache type")
	}
	if _, ok := config.SupportedCaches[c.CacheType]; !ok {
		return fmt.Errorf(
			"cache type not supported, must be one of: %s", config.SupportedCaches,
		)
	}
	if _, err := c.torOptions(); err != nil {
		return err
	}
	if _, err := c.addressService(); err != nil {
		return err
	}
	if _, err := c.transactionRepository(); err != nil {
		return err
	}
	if _, err := c.electrumClient(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) ElectrumClient() *electrum.Client {
	return c.client
}

func (c *AppConfig) AddressService() ports.AddressService {
	return c.addrSvc
}

func (c *AppConfig) TransactionRepository() domain.TransactionRepository {
	return c.txRepo
}

func (c *AppConfig) AccountService() *application.AccountService {
	return c.accountService()
}

func (c *AppConfig) TransactionService() *application.TransactionService {
	return c.transactionService()
}

func (c *AppConfig) SubscriptionService() *application.SubscriptionService {
	return c.subscriptionService()
}

func (c *AppConfig) WorkerService() *application.WorkerService {
	return c.workerService()
}

func (c *AppConfig) BuildInfo() BuildInfo {
	return c.buildInfo()
}

// Close closes the worker, stops the client and closes the cache.
func (c *AppConfig) Close() {
	if c.workerSvc != nil {
		c.workerSvc.Close()
	}
	if c.client != nil {
		c.client.Shutdown()
	}
	if c.txRepo != nil {
		c.txRepo.Close()
	}
}

func (c *AppConfig) electrumClient() (*electrum.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	tor, err := c.torOptions()
	if err != nil {
		return nil, err
	}
	var metrics *electrum.Metrics
	if c.Registerer != nil {
		metrics = electrum.NewMetrics(c.Registerer)
	}

	client, err := electrum.NewClient(electrum.ClientOptions{
		URL:             c.ServerURL,
		ClientName:      c.ClientName,
		ProtocolVersion: c.ProtocolVersion,
		SocketOptions: electrum.SocketOptions{
			Timeout:   c.ConnectTimeout,
			KeepAlive: c.SocketKeepAlive,
			Tor:       tor,
		},
		KeepAliveInterval: c.KeepAliveInterval,
		Persistence: electrum.PersistencePolicy{
			MaxRetry: c.MaxRetry,
			Backoff:  c.RetryBackoff,
			OnGiveUp: func(err error) {
				log.WithError(err).Warn("app config: gave up reconnecting to server")
			},
		},
		Metrics: metrics,
		Debug:   c.Debug,
	})
	if err != nil {
		return nil, err
	}
	c.client = client
	return c.client, nil
}

func (c *AppConfig) torOptions() (*electrum.TorOptions, error) {
	if c.TorProxy == "" {
		return nil, nil
	}
	host, port, err := net.SplitHostPort(c.TorProxy)
	if err != nil {
		return nil, fmt.Errorf("invalid tor proxy address: %s", err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid tor proxy port: %s", err)
	}
	return &electrum.TorOptions{Host: host, Port: portNum}, nil
}

func (c *AppConfig) addressService() (ports.AddressService, error) {
	if c.addrSvc != nil {
		return c.addrSvc, nil
	}

	addrSvc, err := hdkeychain_address.NewService(c.Network, c.AddressType)
	if err != nil {
		return nil, err
	}
	c.addrSvc = addrSvc
	return c.addrSvc, nil
}

func (c *AppConfig) transactionRepository() (domain.TransactionRepository, error) {
	if c.txRepo != nil {
		return c.txRepo, nil
	}

	switch c.CacheType {
	case "inmemory":
		c.txRepo = inmemory.NewTransactionRepository()
		return c.txRepo, nil
	case "badger":
		if c.CacheConfig == nil {
			return nil, fmt.Errorf("missing cache config args")
		}
		datadir, ok := c.CacheConfig.(string)
		if !ok {
			return nil, fmt.Errorf("invalid cache config type, must be string")
		}
		repo, err := dbbadger.NewTransactionRepository(datadir, log.New())
		if err != nil {
			return nil, err
		}
		c.txRepo = repo
		return c.txRepo, nil
	default:
		return nil, fmt.Errorf("unknown cache type")
	}
}

func (c *AppConfig) discoveryService() *application.Discovery {
	if c.discovery != nil {
		return c.discovery
	}

	client, _ := c.electrumClient()
	addrSvc, _ := c.addressService()
	c.discovery = application.NewDiscovery(client, addrSvc, c.GapLimit)
	return c.discovery
}

func (c *AppConfig) transactionService() *application.TransactionService {
	if c.txSvc != nil {
		return c.txSvc
	}

	client, _ := c.electrumClient()
	repo, _ := c.transactionRepository()
	c.txSvc = application.NewTransactionService(client, repo)
	return c.txSvc
}

func (c *AppConfig) accountService() *application.AccountService {
	if c.accountSvc != nil {
		return c.accountSvc
	}

	client, _ := c.electrumClient()
	addrSvc, _ := c.addressService()
	c.accountSvc = application.NewAccountService(
		client, addrSvc, c.discoveryService(), c.transactionService(),
	)
	return c.accountSvc
}

func (c *AppConfig) subscriptionService() *application.SubscriptionService {
	if c.subscriptions != nil {
		return c.subscriptions
	}

	client, _ := c.electrumClient()
	addrSvc, _ := c.addressService()
	c.subscriptions = application.NewSubscriptionService(
		client, addrSvc, c.discoveryService(), c.transactionService(),
	)
	return c.subscriptions
}

func (c *AppConfig) workerService() *application.WorkerService {
	if c.workerSvc != nil {
		return c.workerSvc
	}

	client, _ := c.electrumClient()
	c.workerSvc = application.NewWorkerService(
		client, c.accountService(), c.transactionService(),
		c.subscriptionService(),
	)
	return c.workerSvc
}

func (c *AppConfig) buildInfo() BuildInfo {
	version := "dev"
	if c.Version != "" {
		version = c.Version
	}
	commit := "none"
	if c.Commit != "" {
		commit = c.Commit
	}
	date := "unknown"
	if c.Date != "" {
		date = c.Date
	}
	return BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}
