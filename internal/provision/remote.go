package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteConfig describes the managed server reached over SSH.
type RemoteConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KnownHostsFile string
	DialTimeout    time.Duration
}

// RemoteRunner runs commands on the managed server over SSH. A new
// connection is opened per command.
type RemoteRunner struct {
	addr   string
	config *ssh.ClientConfig
}

// NewRemoteRunner validates cfg and prepares an SSH client configuration.
// Without a known_hosts file the host key is not checked.
func NewRemoteRunner(cfg RemoteConfig) (*RemoteRunner, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote runner: host is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("remote runner: load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &RemoteRunner{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Run implements Runner.
func (r *RemoteRunner) Run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	dialer := net.Dialer{Timeout: r.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", r.addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, r.config)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake %s: %w", r.addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	if err := session.Run(shellJoin(name, args...)); err != nil {
		return out.String(), commandError(name, out.String(), err)
	}
	return out.String(), nil
}

// shellJoin single-quotes every word for the remote shell.
func shellJoin(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{name}, args...) {
		words = append(words, "'"+strings.ReplaceAll(w, "'", `'\''`)+"'")
	}
	return strings.Join(words, " ")
}
