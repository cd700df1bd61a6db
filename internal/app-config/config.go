package appconfig

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ark-network/coinjoin/internal/core/application"
	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/ark-network/coinjoin/internal/core/ports"
	coordinatorclient "github.com/ark-network/coinjoin/internal/infrastructure/coordinator/rest"
	"github.com/ark-network/coinjoin/internal/infrastructure/credentials/middleware"
	"github.com/ark-network/coinjoin/internal/infrastructure/db"
	scheduler "github.com/ark-network/coinjoin/internal/infrastructure/scheduler/gocron"
	txbuilder "github.com/ark-network/coinjoin/internal/infrastructure/tx-builder"
	"github.com/ark-network/coinjoin/internal/infrastructure/wallet/hdwallet"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

var (
	supportedDbs = supportedType{
		"badger":   {},
		"inmemory": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedScriptTypes = supportedType{
		"taproot": {},
		"segwit":  {},
	}
)

type Config struct {
	DbType                string
	DbDir                 string
	Network               *chaincfg.Params
	SchedulerType         string
	CoordinatorURL        string
	MiddlewareURL         string
	CoordinatorIdentifier string
	PollInterval          int64
	RegistrationMargin    time.Duration
	RequestTimeout        time.Duration
	ExtendedKey           string
	ScriptType            string

	repo        ports.RepoManager
	svc         application.Service
	wallet      ports.WalletService
	txBuilder   ports.TxBuilder
	scheduler   ports.SchedulerService
	coordinator ports.CoordinatorClient
	credentials ports.CredentialProvider
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if !supportedScriptTypes.supports(c.ScriptType) {
		return fmt.Errorf("script type not supported, please select one of: %s", supportedScriptTypes)
	}
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("invalid poll interval, must be at least 1 second")
	}
	if len(c.ExtendedKey) <= 0 {
		return fmt.Errorf("missing wallet extended key")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.walletService(); err != nil {
		return fmt.Errorf("failed to load wallet: %s", err)
	}
	if err := c.coordinatorClient(); err != nil {
		return err
	}
	if err := c.credentialProvider(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	c.txBuilder = txbuilder.NewTxBuilder(c.Network)
	if err := c.appService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() application.Service {
	return c.svc
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	switch c.DbType {
	case "badger":
		logger := log.New()
		svc, err = db.NewService(db.ServiceConfig{
			DataStoreType:   c.DbType,
			DataStoreConfig: []interface{}{c.DbDir, logger},
		})
	case "inmemory":
		svc, err = db.NewService(db.ServiceConfig{
			DataStoreType: c.DbType,
		})
	default:
		return fmt.Errorf("unknown db type")
	}
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) walletService() error {
	scriptType, err := domain.ParseScriptType(c.ScriptType)
	if err != nil {
		return err
	}
	svc, err := hdwallet.NewService(
		c.ExtendedKey, scriptType, c.Network, c.repo.Addresses(),
	)
	if err != nil {
		return err
	}

	c.wallet = svc
	return nil
}

func (c *Config) coordinatorClient() error {
	svc, err := coordinatorclient.NewClient(c.CoordinatorURL, c.RequestTimeout)
	if err != nil {
		return fmt.Errorf("invalid coordinator: %s", err)
	}

	c.coordinator = svc
	return nil
}

func (c *Config) credentialProvider() error {
	svc, err := middleware.NewCredentialProvider(c.MiddlewareURL, c.RequestTimeout)
	if err != nil {
		return fmt.Errorf("invalid credential middleware: %s", err)
	}

	c.credentials = svc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	switch c.SchedulerType {
	case "gocron":
		svc = scheduler.NewScheduler()
	default:
		return fmt.Errorf("unknown scheduler type")
	}

	c.scheduler = svc
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.PollInterval, c.RegistrationMargin, c.CoordinatorIdentifier,
		c.coordinator, c.credentials, c.wallet, c.repo, c.txBuilder,
		c.scheduler, application.NewSplitPlanner(),
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	sort.Strings(types)
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
