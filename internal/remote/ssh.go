// Package remote runs commands on the source device over SSH.
package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Endpoint identifies the remote source
type Endpoint struct {
	User       string
	Host       string
	Port       int
	KeyPath    string
	KnownHosts string // empty disables host key verification
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.User + "@" + e.Addr()
}

// Options control connection establishment
type Options struct {
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
	// Passphrase is asked for when the private key is encrypted
	Passphrase func() ([]byte, error)
	// Warn receives retry notices; may be nil
	Warn func(format string, args ...interface{})
}

// Result of a remote command
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Client runs commands over one SSH connection
type Client struct {
	endpoint Endpoint
	conn     *ssh.Client
}

// Dial connects to the endpoint, retrying connection establishment
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Client, error) {
	cfg, err := clientConfig(ep, opts)
	if err != nil {
		return nil, err
	}

	attempts := opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := dial(ctx, ep, cfg)
		if err == nil {
			return &Client{endpoint: ep, conn: conn}, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if opts.Warn != nil {
			opts.Warn("Connection to %s failed (attempt %d/%d): %v", ep, attempt, attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, errors.Wrapf(lastErr, "could not connect to %s after %d attempts", ep, attempts)
}

func dial(ctx context.Context, ep Endpoint, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, ep.Addr(), cfg)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func clientConfig(ep Endpoint, opts Options) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(ep.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read private key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && opts.Passphrase != nil {
		pass, perr := opts.Passphrase()
		if perr != nil {
			return nil, errors.Wrap(perr, "could not read key passphrase")
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, pass)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse private key %s", ep.KeyPath)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if ep.KnownHosts != "" {
		hostKey, err = knownhosts.New(ep.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "could not load known_hosts")
		}
	}

	return &ssh.ClientConfig{
		User:            ep.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}, nil
}

// Run executes command and collects its output. A non-zero exit status is
// reported in Result.ExitCode, not as an error.
func (c *Client) Run(ctx context.Context, command string) (Result, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.exec(ctx, command, &stdout, &stderr)
	return Result{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// Stream executes command and copies its stdout into w
func (c *Client) Stream(ctx context.Context, command string, w io.Writer) (Result, error) {
	var stderr bytes.Buffer
	code, err := c.exec(ctx, command, w, &stderr)
	return Result{ExitCode: code, Stderr: stderr.String()}, err
}

func (c *Client) exec(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, errors.Wrap(err, "could not open session")
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		<-done
		return -1, ctx.Err()
	case err = <-done:
	}

	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, errors.Wrapf(err, "remote command %q ended without status", command)
	}
	return -1, errors.Wrapf(err, "remote command %q", command)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Target returns the endpoint description
func (c *Client) Target() string {
	return c.endpoint.String()
}

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
