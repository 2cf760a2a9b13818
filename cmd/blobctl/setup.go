package main

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/arvensis/blobtransfer/config"
	"github.com/arvensis/blobtransfer/internal/blobmgr"
	"github.com/arvensis/blobtransfer/internal/seal"
	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/store/badgerstore"
	"github.com/arvensis/blobtransfer/internal/store/sqlstore"
	"github.com/arvensis/blobtransfer/internal/transport"
	restyclient "github.com/arvensis/blobtransfer/internal/transport/resty"
)

// openStore builds the persistence backend named by cfg.StoreBackend.
func openStore(cfg *config.AppConfig) (store.Store, error) {
	dataDir := blobmgr.DefaultDataDir()

	switch cfg.StoreBackend {
	case "", "sqlite":
		path := cfg.StorePath
		if path == "" {
			path = filepath.Join(dataDir, "blobtransfer.db")
		}
		return sqlstore.OpenSQLite(path)
	case "mysql":
		if cfg.MySQLDSN == "" {
			return nil, errors.New("blobctl: store_backend=mysql requires mysql_dsn")
		}
		return sqlstore.OpenMySQL(cfg.MySQLDSN)
	case "badger":
		path := cfg.StorePath
		if path == "" {
			path = filepath.Join(dataDir, "badger")
		}
		var sealer badgerstore.Sealer
		if cfg.SealPassphrase != "" {
			sealer = seal.New(cfg.SealPassphrase)
		}
		return badgerstore.Open(path, sealer)
	default:
		return nil, errors.Errorf("blobctl: unknown store_backend %q", cfg.StoreBackend)
	}
}

func defaultTransport(cfg *config.AppConfig) (transport.Client, error) {
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.TransportBackend {
	case "", "resty":
		return restyclient.New(timeout), nil
	default:
		return nil, errors.Errorf("blobctl: unknown transport_backend %q (use the s3 package directly for S3 destinations)", cfg.TransportBackend)
	}
}

// newManager wires a Manager from the loaded config. Callers must
// call st.Close() when done; the Manager's own Close() stops its
// reachability and save loops and flushes the store once more.
func newManager() (*blobmgr.Manager, store.Store, error) {
	cfg := config.Config
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := defaultTransport(cfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	mgr, err := blobmgr.New(blobmgr.Config{
		Store:             st,
		DefaultTransport:  client,
		MaxConcurrent:     cfg.MaxConcurrent,
		ReachabilityProbe: cfg.ReachabilityProbe,
		ReachabilityEvery: time.Duration(cfg.ReachabilitySecs) * time.Second,
		TempDir:           cfg.TempDir,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      time.Duration(cfg.RetryBackoffMillis) * time.Millisecond,
		SaveEvery:         time.Duration(cfg.SaveIntervalSecs) * time.Second,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return mgr, st, nil
}
