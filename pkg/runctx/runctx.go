// Package runctx carries the per-run execution settings threaded through
// every component call: SSH identity, key material location and default
// timeouts. A Context is created per run and discarded at run end; there is
// no module-level configuration state.
package runctx

import "time"

const (
	defaultSSHPort        = "22"
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 60 * time.Second
	defaultReadyTimeout   = 300 * time.Second
	defaultPollInterval   = 5 * time.Second
)

type Context interface {
	User() string
	KeyPath() string
	SSHPort() string
	ConnectTimeout() time.Duration
	CommandTimeout() time.Duration
	ReadyTimeout() time.Duration
	PollInterval() time.Duration
}

// Option configures a Context beyond its defaults.
type Option func(*context)

// WithSSHPort overrides the default SSH port (22).
func WithSSHPort(port string) Option {
	return func(c *context) { c.sshPort = port }
}

// WithConnectTimeout overrides the per-dial TCP connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *context) { c.connectTimeout = d }
}

// WithCommandTimeout overrides the per-command timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *context) { c.commandTimeout = d }
}

// WithReadyTimeout overrides the overall SSH readiness timeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *context) { c.readyTimeout = d }
}

// WithPollInterval overrides the readiness poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *context) { c.pollInterval = d }
}

func New(user, keyPath string, opts ...Option) Context {
	c := &context{
		user:           user,
		keyPath:        keyPath,
		sshPort:        defaultSSHPort,
		connectTimeout: defaultConnectTimeout,
		commandTimeout: defaultCommandTimeout,
		readyTimeout:   defaultReadyTimeout,
		pollInterval:   defaultPollInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type context struct {
	user           string
	keyPath        string
	sshPort        string
	connectTimeout time.Duration
	commandTimeout time.Duration
	readyTimeout   time.Duration
	pollInterval   time.Duration
}

// User implements Context.
func (c *context) User() string { return c.user }

// KeyPath implements Context.
func (c *context) KeyPath() string { return c.keyPath }

// SSHPort implements Context.
func (c *context) SSHPort() string { return c.sshPort }

// ConnectTimeout implements Context.
func (c *context) ConnectTimeout() time.Duration { return c.connectTimeout }

// CommandTimeout implements Context.
func (c *context) CommandTimeout() time.Duration { return c.commandTimeout }

// ReadyTimeout implements Context.
func (c *context) ReadyTimeout() time.Duration { return c.readyTimeout }

// PollInterval implements Context.
func (c *context) PollInterval() time.Duration { return c.pollInterval }
