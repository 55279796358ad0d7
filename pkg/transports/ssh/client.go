package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/hpcops/allocsync/pkg/runner"
)

// Client is a connection to the storage host.
// It connects on first use and is safe for concurrent use.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
	stop   chan struct{}
}

var _ runner.Runner = (*Client)(nil)

// NewClient creates a client for the host described by config.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Host).Logger(),
	}, nil
}

// Connect establishes the SSH connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connectLocked(ctx)
	return err
}

func (c *Client) connectLocked(ctx context.Context) (*ssh.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after we gave up on it.
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connChan:
		c.client = client
		c.stop = make(chan struct{})
		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive(client, c.stop)
		}
		c.logger.Info().Str("address", address).Msg("SSH connection established")
		return client, nil
	}
}

// Close releases the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	close(c.stop)
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// Run executes cmd on the remote host. The argument vector is quoted for the
// remote shell; a non-zero exit status is reported in the result.
func (c *Client) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	c.mu.Lock()
	client, err := c.connectLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := shellJoin(cmd.Argv())
	c.logger.Debug().Str("command", line).Msg("executing remote command")

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, &TransportError{Op: "exec", Err: ctx.Err(), IsTemporary: true}
	case runErr = <-done:
	}

	result := &runner.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	c.logger.Debug().
		Str("command", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("remote command finished")
	return result, nil
}

// Stat returns the file info and owning group id of name on the remote host.
// A missing path yields an error matching fs.ErrNotExist.
func (c *Client) Stat(ctx context.Context, name string) (fs.FileInfo, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	sc, err := c.sftpClient(ctx)
	if err != nil {
		return nil, 0, err
	}

	info, err := sc.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
		}
		return nil, 0, &TransportError{Op: "stat", Err: fmt.Errorf("%s: %w", name, err)}
	}

	st, ok := info.Sys().(*sftp.FileStat)
	if !ok {
		return nil, 0, fmt.Errorf("stat %s: no ownership information", name)
	}
	return info, int(st.GID), nil
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}
	client, err := c.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err, IsTemporary: true}
	}
	c.sftp = sc
	return sc, nil
}

// keepAlive sends periodic keep-alive requests until stop is closed.
func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn().Err(err).Msg("keep-alive failed")
				return
			}
		}
	}
}
