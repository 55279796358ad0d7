package driver

import (
	"context"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/directory"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/quota"
	"github.com/hpcops/allocsync/pkg/runner"
	"github.com/hpcops/allocsync/pkg/telemetry"
	"github.com/hpcops/allocsync/pkg/transports/ssh"
)

// DirectorySession is an open directory connection.
type DirectorySession interface {
	engine.Directory
	Close() error
}

// StorageHost is where the quota tool runs and the group directories live.
type StorageHost struct {
	Runner runner.Runner
	FS     quota.FileSystem

	close func() error
}

// Close releases the connection to the host, if any.
func (h *StorageHost) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Adapters open the external sessions of a run. They are called once per run,
// before any entity is processed; a failure aborts the run.
type Adapters struct {
	Directory func(ctx context.Context) (DirectorySession, error)
	Storage   func(ctx context.Context) (*StorageHost, error)
	Usage     func(ctx context.Context) (runner.Runner, error)
}

// DefaultAdapters connects to the LDAP server and storage host named in cfg.
// Without an ssh host the storage commands run on the local machine. Sessions
// log through the run logger carried by ctx.
func DefaultAdapters(cfg *config.Config) Adapters {
	return Adapters{
		Directory: func(ctx context.Context) (DirectorySession, error) {
			logger := telemetry.FromContext(ctx).Component("directory")
			return directory.Open(ctx, cfg.DirectoryConfig(), logger)
		},
		Storage: func(ctx context.Context) (*StorageHost, error) {
			logger := telemetry.FromContext(ctx).Component("storage")
			sshConfig, remote := cfg.SSHClientConfig()
			if !remote {
				return &StorageHost{Runner: runner.NewLocal(logger), FS: quota.LocalFS{}}, nil
			}
			client, err := ssh.NewClient(sshConfig, logger)
			if err != nil {
				return nil, engine.NewFatalError("ssh_config", err)
			}
			if err := client.Connect(ctx); err != nil {
				return nil, engine.NewFatalError("ssh_connect", err)
			}
			return &StorageHost{Runner: client, FS: client, close: client.Close}, nil
		},
		Usage: func(ctx context.Context) (runner.Runner, error) {
			return runner.NewLocal(telemetry.FromContext(ctx).Component("usage")), nil
		},
	}
}
