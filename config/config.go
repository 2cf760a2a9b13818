package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// AppConfig holds the application-level configuration for the blob
// transfer manager.
type AppConfig struct {
	StoreBackend      string `mapstructure:"store_backend"`       // "sqlite", "mysql", or "badger"
	StorePath         string `mapstructure:"store_path"`          // sqlite file path or badger dir
	MySQLDSN          string `mapstructure:"mysql_dsn"`           // used when StoreBackend == "mysql"
	SealPassphrase    string `mapstructure:"seal_passphrase"`     // non-empty enables badgerstore sealing
	TempDir           string `mapstructure:"temp_dir"`
	MaxConcurrent     int    `mapstructure:"max_concurrent"`
	DefaultBlockSize  int64  `mapstructure:"default_block_size"`
	ReachabilityProbe string `mapstructure:"reachability_probe"`
	ReachabilitySecs  int    `mapstructure:"reachability_interval_seconds"`
	TransportBackend  string `mapstructure:"transport_backend"` // only "resty" (or empty) is accepted by cmd/blobctl
	RequestTimeoutSecs int   `mapstructure:"request_timeout_seconds"`
	MaxRetries         int   `mapstructure:"max_retries"`
	RetryBackoffMillis int   `mapstructure:"retry_backoff_millis"`
	SaveIntervalSecs   int   `mapstructure:"save_interval_seconds"`
}

var Config *AppConfig

// LoadConfig reads config.yaml from path (falling back to built-in
// defaults when absent) and populates the package-level Config.
func LoadConfig(path string) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv()

	viper.SetDefault("store_backend", "sqlite")
	viper.SetDefault("store_path", "")
	viper.SetDefault("mysql_dsn", "")
	viper.SetDefault("seal_passphrase", "")
	viper.SetDefault("temp_dir", "")
	viper.SetDefault("max_concurrent", 4)
	viper.SetDefault("default_block_size", 4*1024*1024)
	viper.SetDefault("reachability_probe", "https://www.gstatic.com/generate_204")
	viper.SetDefault("reachability_interval_seconds", 30)
	viper.SetDefault("transport_backend", "resty")
	viper.SetDefault("request_timeout_seconds", 30)
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("retry_backoff_millis", 500)
	viper.SetDefault("save_interval_seconds", 15)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("blobctl: could not read config file, using defaults: %v", err)
	}

	var appConfig AppConfig
	if err := viper.Unmarshal(&appConfig); err != nil {
		log.Fatalf("blobctl: unable to decode config into struct: %v", err)
	}

	Config = &appConfig

	fmt.Println("blobctl: configuration loaded.")
}
