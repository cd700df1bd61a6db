package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

type Config struct {
	Datadir               string
	DbDir                 string
	LogLevel              int
	Port                  uint32
	Network               *chaincfg.Params
	CoordinatorURL        string
	MiddlewareURL         string
	CoordinatorIdentifier string
	PollInterval          int64
	RegistrationMargin    time.Duration
	RequestTimeout        time.Duration
	DbType                string
	SchedulerType         string
	ExtendedKey           string
	ScriptType            string
}

var (
	Datadir               = "DATADIR"
	LogLevel              = "LOG_LEVEL"
	Port                  = "PORT"
	Network               = "NETWORK"
	CoordinatorURL        = "COORDINATOR_URL"
	MiddlewareURL         = "MIDDLEWARE_URL"
	CoordinatorIdentifier = "COORDINATOR_IDENTIFIER"
	PollInterval          = "POLL_INTERVAL"
	RegistrationMargin    = "REGISTRATION_MARGIN"
	RequestTimeout        = "REQUEST_TIMEOUT"
	DbType                = "DB_TYPE"
	SchedulerType         = "SCHEDULER_TYPE"
	ExtendedKey           = "EXTENDED_KEY"
	ScriptType            = "SCRIPT_TYPE"

	defaultDatadir               = btcutil.AppDataDir("coinjoind", false)
	defaultLogLevel              = 4
	defaultPort                  = 7171
	defaultNetwork               = "bitcoin"
	defaultCoordinatorIdentifier = "CoinJoinCoordinatorIdentifier"
	defaultPollInterval          = 5
	defaultRegistrationMargin    = 30 * time.Second
	defaultRequestTimeout        = 30 * time.Second
	defaultDbType                = "badger"
	defaultSchedulerType         = "gocron"
	defaultScriptType            = "taproot"
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("COINJOIN")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Port, defaultPort)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(CoordinatorIdentifier, defaultCoordinatorIdentifier)
	viper.SetDefault(PollInterval, defaultPollInterval)
	viper.SetDefault(RegistrationMargin, defaultRegistrationMargin)
	viper.SetDefault(RequestTimeout, defaultRequestTimeout)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(ScriptType, defaultScriptType)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	net, err := networkFromString(viper.GetString(Network))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Datadir:               viper.GetString(Datadir),
		DbDir:                 filepath.Join(viper.GetString(Datadir), "db"),
		LogLevel:              viper.GetInt(LogLevel),
		Port:                  viper.GetUint32(Port),
		Network:               net,
		CoordinatorURL:        viper.GetString(CoordinatorURL),
		MiddlewareURL:         viper.GetString(MiddlewareURL),
		CoordinatorIdentifier: viper.GetString(CoordinatorIdentifier),
		PollInterval:          viper.GetInt64(PollInterval),
		RegistrationMargin:    viper.GetDuration(RegistrationMargin),
		RequestTimeout:        viper.GetDuration(RequestTimeout),
		DbType:                viper.GetString(DbType),
		SchedulerType:         viper.GetString(SchedulerType),
		ExtendedKey:           viper.GetString(ExtendedKey),
		ScriptType:            viper.GetString(ScriptType),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.CoordinatorURL) <= 0 {
		return fmt.Errorf("missing coordinator url")
	}
	if len(c.MiddlewareURL) <= 0 {
		return fmt.Errorf("missing credential middleware url")
	}
	if len(c.ExtendedKey) <= 0 {
		return fmt.Errorf("missing wallet extended key")
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if c.RegistrationMargin < 0 {
		return fmt.Errorf("registration margin must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing port")
	}
	return nil
}

func networkFromString(network string) (*chaincfg.Params, error) {
	switch network {
	case "bitcoin", chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case "testnet", chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("invalid network: %s", network)
	}
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
