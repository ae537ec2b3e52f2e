package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the per-operation deadline used when the configured
// timeout is zero.
const DefaultTimeout = 5 * time.Second

// Client-level errors surfaced directly to the caller. The manager converts
// these into state transitions; nothing here terminates the process.
var (
	ErrDisconnected      = errors.New("rcon: not connected")
	ErrAuthFailed        = errors.New("rcon: authentication failed")
	ErrTimeout           = errors.New("rcon: operation timed out")
	ErrConnectionRefused = errors.New("rcon: connection refused")
)

// ClientConfig holds the connection parameters for a single RCON client.
type ClientConfig struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Client owns one TCP connection to the game server's RCON endpoint.
// It performs the auth handshake, sends requests, and correlates responses
// by packet id. Partial reads accumulate in an internal buffer; a frame is
// decoded only once it is complete, and leftover bytes are retained for the
// next read.
type Client struct {
	mu      sync.Mutex
	cfg     ClientConfig
	conn    net.Conn
	authed  bool
	nextID  int32
	readBuf []byte
	logger  zerolog.Logger
}

// NewClient creates a client for the given endpoint. No I/O happens until
// Connect is called.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		nextID: 1,
		logger: log.With().
			Str("component", "rcon_client").
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Logger(),
	}
}

// Connect opens the socket and performs the AUTH handshake. It fails with
// ErrConnectionRefused on socket-level failure, ErrAuthFailed if the server
// echoes the failure sentinel id, and ErrTimeout if no auth response
// arrives within the configured deadline.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("rcon: already connected to %s:%d", c.cfg.Host, c.cfg.Port)
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: dial %s: %v", ErrTimeout, addr, err)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionRefused, addr, err)
	}

	c.conn = conn
	c.readBuf = nil

	authID := c.freshID()
	frame, err := Encode(authID, TypeAuth, c.cfg.Password)
	if err != nil {
		c.closeLocked()
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		c.closeLocked()
		return err
	}

	// The server may send an empty RESPONSE_VALUE ahead of the auth
	// response; skip anything that is not the matching AUTH_RESPONSE.
	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		pkt, err := c.readPacket(deadline)
		if err != nil {
			c.closeLocked()
			return err
		}
		if pkt.Type != TypeAuthResponse {
			continue
		}
		if pkt.ID == AuthFailedID {
			c.closeLocked()
			return ErrAuthFailed
		}
		if pkt.ID == authID {
			break
		}
	}

	c.authed = true
	c.logger.Info().Msg("rcon authenticated")
	return nil
}

// Send encodes an EXECCOMMAND packet, writes it, and awaits the single
// RESPONSE_VALUE with the matching id, returning its decoded body.
// Fails with ErrDisconnected if the client is not connected. On timeout the
// in-flight correlation id is retired and the connection is treated as
// failed.
func (c *Client) Send(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.authed {
		return "", ErrDisconnected
	}

	id := c.freshID()
	frame, err := Encode(id, TypeExecCommand, command)
	if err != nil {
		return "", err
	}
	if err := c.writeFrame(frame); err != nil {
		c.closeLocked()
		return "", err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		pkt, err := c.readPacket(deadline)
		if err != nil {
			c.closeLocked()
			return "", err
		}
		if pkt.Type == TypeResponseValue && pkt.ID == id {
			return pkt.Body, nil
		}
		// Stale response from a retired id; drop and keep reading.
		c.logger.Debug().
			Int32("id", pkt.ID).
			Int32("want", id).
			Msg("discarding uncorrelated rcon packet")
	}
}

// Disconnect closes the socket unconditionally. Safe to call at any time,
// including while not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// IsConnected reports whether the socket is open and authenticated.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.authed
}

// freshID returns a new correlation id. Ids are positive; the failure
// sentinel (-1) can never collide with one.
func (c *Client) freshID() int32 {
	id := c.nextID
	c.nextID++
	if c.nextID < 1 {
		c.nextID = 1
	}
	return id
}

func (c *Client) writeFrame(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	if _, err := c.conn.Write(frame); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: write: %v", ErrTimeout, err)
		}
		return fmt.Errorf("rcon: write failed: %w", err)
	}
	return nil
}

// readPacket returns the next complete frame from the stream, reading more
// bytes from the socket as needed. The caller must hold c.mu.
func (c *Client) readPacket(deadline time.Time) (Packet, error) {
	chunk := make([]byte, 4096)
	for {
		if HasCompletePacket(c.readBuf) {
			pkt, err := Decode(c.readBuf)
			if err != nil {
				return Packet{}, err
			}
			c.readBuf = c.readBuf[FrameLen(c.readBuf):]
			return pkt, nil
		}

		if !time.Now().Before(deadline) {
			return Packet{}, fmt.Errorf("%w: no response within %s", ErrTimeout, c.cfg.Timeout)
		}
		c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.readBuf = append(c.readBuf, chunk[:n]...)
			continue
		}
		if err != nil {
			if isTimeout(err) {
				return Packet{}, fmt.Errorf("%w: no response within %s", ErrTimeout, c.cfg.Timeout)
			}
			return Packet{}, fmt.Errorf("rcon: read failed: %w", err)
		}
	}
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.authed = false
	c.readBuf = nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
