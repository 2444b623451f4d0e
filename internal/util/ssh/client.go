// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyNotFound       = errors.New("ssh private key not found")
	ErrParsePrivateKey   = errors.New("unable to parse private key")
	ErrAuthFailed        = errors.New("ssh authentication failed")
	ErrConnectTimeout    = errors.New("ssh connection timed out")
	ErrConnectionRefused = errors.New("ssh connection refused")
	ErrNoRouteToHost     = errors.New("no route to host")
	ErrConnectFailed     = errors.New("ssh connection failed")
	ErrSession           = errors.New("unable to create SSH session")
	ErrStartCommand      = errors.New("unable to start remote command")
	ErrAwaitTimeout      = errors.New("timed out waiting for SSH server")
)

const (
	// DefaultCommandTimeout bounds a single remote command execution.
	DefaultCommandTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds a single TCP connect + handshake.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultPollInterval is the sleep between readiness probe attempts.
	DefaultPollInterval = 5 * time.Second

	// pollQuantum is the minimum sleep between completion re-checks while a
	// command is running. Keeps the wait loop from spinning.
	pollQuantum = 100 * time.Millisecond
)

// Client implements the Runner interface for real SSH connections.
type Client struct {
	Host       string
	User       string
	KeyPath    string
	PrivateKey []byte
	Port       string

	// ConnectTimeout bounds each dial attempt. Defaults to
	// DefaultConnectTimeout when zero.
	ConnectTimeout time.Duration
}

// NewClient creates a new SSH client from a private key file.
//
// The key file must exist; permissions broader than owner read/write only
// produce a warning since practice VMs often ship throwaway keys.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	info, err := os.Stat(privateKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, privateKeyPath)
		}
		return nil, fmt.Errorf("unable to stat private key %s: %w", privateKeyPath, err)
	}

	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("private key permissions are too open",
			"keyPath", privateKeyPath,
			"mode", info.Mode().Perm().String(),
		)
	}

	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	return &Client{
			Host:           host,
			User:           user,
			KeyPath:        privateKeyPath,
			PrivateKey:     key,
			Port:           port,
			ConnectTimeout: DefaultConnectTimeout,
		},
		nil
}

// Run executes a single remote command without a pseudo-terminal, so stdout
// and stderr stay cleanly separated for validation parsing.
//
// Transport-level failures return a classified error. Once the command is
// running, completion is polled against a monotonic deadline: on timeout the
// Result carries an unset exit status and whatever output was captured so
// far. A non-zero exit status is not an error; it is part of the Result.
func (c *Client) Run(command string, opts RunOptions) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	config, err := c.clientConfig(c.connectTimeout())
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.Host, c.Port)
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, c.classifyDialError(addr, err)
	}
	defer runFuncAndLogErr(conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: addr=%s: %v", ErrSession, addr, err)
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf lockedBuffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	if opts.Stdin != "" {
		// strings.Reader returns EOF after the payload, which signals no
		// further input to the remote side.
		session.Stdin = strings.NewReader(opts.Stdin)
	}

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("%w: addr=%s: %v", ErrStartCommand, addr, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(pollQuantum)
	defer tick.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			return commandResult(&stdoutBuf, &stderrBuf, waitErr), nil
		case <-tick.C:
			if time.Now().After(deadline) {
				// Closing the session (deferred) releases the channel; the
				// remote command is left to finish on its own schedule.
				return &Result{
					Stdout: stdoutBuf.String(),
					Stderr: stderrBuf.String(),
					Err: fmt.Sprintf(
						"command timed out after %s on %s@%s", timeout, c.User, addr,
					),
				}, nil
			}
		}
	}
}

// AwaitServer waits for the SSH server to accept an authenticated connection.
//
// Authentication failures are non-fatal here: the guest may still be racing
// SSH service startup against key provisioning, so they are logged and the
// probe keeps polling until the overall timeout. Each attempt's connect
// timeout shrinks so it never exceeds the remaining budget.
func (c *Client) AwaitServer(timeout, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	addr := net.JoinHostPort(c.Host, c.Port)
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: addr=%s user=%s after %s", ErrAwaitTimeout, addr, c.User, timeout)
		}

		config, err := c.clientConfig(minDuration(c.connectTimeout(), remaining))
		if err != nil {
			return err
		}

		conn, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		if isAuthError(err) {
			slog.Warn("ssh authentication not ready yet, still polling",
				"addr", addr, "attempt", attempt, "err", err.Error())
		} else {
			slog.Debug("ssh server not reachable yet",
				"addr", addr, "attempt", attempt, "err", err.Error())
		}

		if sleep := minDuration(pollInterval, time.Until(deadline)); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// clientConfig builds the ssh.ClientConfig for a dial attempt.
//
// Host key verification is deliberately permissive: the targets are
// controlled, ephemeral practice VMs that are recreated or reverted between
// runs, so there is no stable host key to pin. Not suitable for production.
func (c *Client) clientConfig(connectTimeout time.Duration) (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: keyPath=%s: %v", ErrParsePrivateKey, c.KeyPath, err)
	}

	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}, nil
}

func (c *Client) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// classifyDialError maps transport failures to distinct error kinds, each
// carrying enough context to diagnose without retrying automatically.
func (c *Client) classifyDialError(addr string, err error) error {
	kind := ErrConnectFailed

	var netErr net.Error
	switch {
	case isAuthError(err):
		kind = ErrAuthFailed
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrConnectTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = ErrConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		kind = ErrNoRouteToHost
	}

	return fmt.Errorf("%w: addr=%s user=%s keyPath=%s: %v", kind, addr, c.User, c.KeyPath, err)
}

// commandResult converts a session wait outcome into a Result.
func commandResult(stdout, stderr *lockedBuffer, waitErr error) *Result {
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if waitErr == nil {
		res.ExitStatus = ptr(0)
		return res
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitStatus = ptr(exitErr.ExitStatus())
		return res
	}

	// The command finished without reporting an exit status (e.g. the remote
	// side closed the channel). Exit status stays unset.
	res.Err = waitErr.Error()
	return res
}

// isAuthError detects rejected credentials. The x/crypto/ssh library wraps
// every handshake failure in "ssh: handshake failed", so only the
// authentication-specific fragments are matched here; a plain handshake
// failure (protocol error, connection reset) stays ErrConnectFailed.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// lockedBuffer is a goroutine-safe output sink. The ssh library writes
// chunks from its own goroutine while Run polls for completion.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func ptr[T any](v T) *T {
	return &v
}
