package shellio

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	dialTimeout = 10 * time.Second
	// readChanDepth bounds how many pending output chunks a channel can
	// hold before the remote reader backpressures.
	readChanDepth = 256
)

// SSHModule is the production Module implementation over SSH. It keeps at
// most one live channel per resource id and reuses it across connects.
type SSHModule struct {
	mu       sync.Mutex
	channels map[uint]*sshChannel
}

// sshChannel is one live PTY-backed shell. A background goroutine drains
// session stdout into out; Read polls out without blocking. quit unblocks
// the drain when out is full at teardown, otherwise a busy remote would
// leave the goroutine parked on the send forever.
type sshChannel struct {
	client   *ssh.Client
	session  *ssh.Session
	stdin    io.WriteCloser
	out      chan []byte
	done     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func (c *sshChannel) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func NewSSHModule() *SSHModule {
	return &SSHModule{
		channels: make(map[uint]*sshChannel),
	}
}

func (m *SSHModule) ConnectOrReuse(ctx context.Context, resourceID uint, cfg ConnectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[resourceID]; ok {
		if ch.alive() {
			return nil
		}
		// Stale channel from a previous connection; replace it.
		ch.teardown()
		delete(m.channels, resourceID)
	}

	ch, err := m.dial(ctx, resourceID, cfg)
	if err != nil {
		return err
	}
	m.channels[resourceID] = ch
	return nil
}

func (m *SSHModule) dial(ctx context.Context, resourceID uint, cfg ConnectConfig) (*sshChannel, error) {
	authMethods, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.Credentials.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, classifyDialError(err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	ch := &sshChannel{
		client:  client,
		session: session,
		stdin:   stdin,
		out:     make(chan []byte, readChanDepth),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	go ch.drain(resourceID, stdout)

	return ch, nil
}

// drain copies session stdout into the out channel until the stream ends or
// the channel is torn down.
func (c *sshChannel) drain(resourceID uint, stdout io.Reader) {
	defer close(c.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.out <- chunk:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			log.Printf("[shellio] resource %d stdout ended: %v", resourceID, err)
			return
		}
	}
}

// buildAuthMethods assembles SSH auth methods from the credential set.
func buildAuthMethods(cfg ConnectConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.Credentials.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if cfg.Credentials.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(
				[]byte(cfg.Credentials.PrivateKey), []byte(cfg.Credentials.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.Credentials.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Credentials.Password != "" {
		methods = append(methods, ssh.Password(cfg.Credentials.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no credentials provided")
	}
	return methods, nil
}

// classifyDialError maps a dial failure onto the package sentinels so the
// relay can distinguish reconnect-required failures from everything else.
func classifyDialError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed") {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func (m *SSHModule) Read(resourceID uint) ([]byte, bool) {
	m.mu.Lock()
	ch, ok := m.channels[resourceID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case chunk := <-ch.out:
		return chunk, true
	default:
		return nil, false
	}
}

func (m *SSHModule) Send(resourceID uint, data string) error {
	m.mu.Lock()
	ch, ok := m.channels[resourceID]
	m.mu.Unlock()
	if !ok || !ch.alive() {
		return ErrNotConnected
	}

	if _, err := ch.stdin.Write([]byte(data)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (m *SSHModule) SetViewport(resourceID uint, cols, rows int) error {
	m.mu.Lock()
	ch, ok := m.channels[resourceID]
	m.mu.Unlock()
	if !ok || !ch.alive() {
		return ErrNotConnected
	}
	return ch.session.WindowChange(rows, cols)
}

func (m *SSHModule) Disconnect(resourceID uint) error {
	m.mu.Lock()
	ch, ok := m.channels[resourceID]
	if ok {
		delete(m.channels, resourceID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	ch.teardown()
	return nil
}

// DisconnectAll tears down every channel. Used on shutdown.
func (m *SSHModule) DisconnectAll() {
	m.mu.Lock()
	channels := m.channels
	m.channels = make(map[uint]*sshChannel)
	m.mu.Unlock()

	for id, ch := range channels {
		ch.teardown()
		log.Printf("[shellio] disconnected resource %d on shutdown", id)
	}
}

func (c *sshChannel) teardown() {
	c.quitOnce.Do(func() { close(c.quit) })
	if c.session != nil {
		c.session.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
}
