package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chtzvt/csvjob/cmd/csvjob/config"
	"github.com/chtzvt/csvjob/internal/runtime"
	"github.com/chtzvt/csvjob/internal/secrets"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// environment holds the collaborators a command needs beyond the job itself.
type environment struct {
	etcd    *clientv3.Client
	secrets *secrets.Store
	runtime runtime.Runtime
}

func newEnv(cfg *config.Config, logger *log.Logger) (*environment, error) {
	env := &environment{}
	etcdCfg := cfg.Runtime.Etcd
	if cfg.Runtime.Backend == config.BackendEtcd || cfg.Secrets.ClusterKey != "" {
		dialTimeout := etcdCfg.DialTimeout
		if dialTimeout == 0 {
			dialTimeout = 5 * time.Second
		}
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   etcdCfg.Endpoints,
			Username:    etcdCfg.Username,
			Password:    etcdCfg.Password,
			DialTimeout: dialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		env.etcd = cli
	}

	if cfg.Secrets.ClusterKey != "" {
		key, err := secrets.ParseClusterKey(cfg.Secrets.ClusterKey)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.secrets = secrets.NewStore(env.etcd, etcdCfg.Prefix, key)
	}

	switch cfg.Runtime.Backend {
	case config.BackendEtcd:
		env.runtime = runtime.NewEtcd(env.etcd, etcdCfg.Prefix, logger)
	default:
		env.runtime = runtime.NewLocal(logger)
	}
	return env, nil
}

func (e *environment) Close() error {
	var errs []error
	if e.runtime != nil {
		errs = append(errs, e.runtime.Close())
	}
	if e.etcd != nil {
		errs = append(errs, e.etcd.Close())
	}
	return errors.Join(errs...)
}

func cmdContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
	return ctx
}
