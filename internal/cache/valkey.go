package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider talks RESP to a Valkey/Redis-compatible server. Each
// operation dials a fresh connection; the catalog and stats caches see a
// handful of operations per second, so connection pooling is not worth the
// complexity here.
type ValkeyProvider struct {
	opts ValkeyOptions
}

// ValkeyOptions configures the Valkey connection.
type ValkeyOptions struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyProvider builds a provider and pings the target once so bad
// addresses or credentials fail at startup rather than mid-analysis.
func NewValkeyProvider(opts ValkeyOptions) (*ValkeyProvider, error) {
	if opts.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 500 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}

	p := &ValkeyProvider{opts: opts}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if _, err := p.roundTrip(ctx, "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get returns the bytes stored at key, or ErrCacheMiss.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.roundTrip(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.isNil {
		return nil, ErrCacheMiss
	}
	return reply.data, nil
}

// Set stores value at key. A positive ttl is applied in milliseconds.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.roundTrip(ctx, args...)
	if err != nil {
		return err
	}
	if string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET reply: %s", reply.data)
	}
	return nil
}

// Del removes key. Deleting an absent key is not an error.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.roundTrip(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are per-operation.
func (p *ValkeyProvider) Close() error { return nil }

type respReply struct {
	data  []byte
	isNil bool
}

// roundTrip dials, authenticates, sends one command, and reads its reply,
// retrying timeouts with exponential backoff.
func (p *ValkeyProvider) roundTrip(ctx context.Context, args ...string) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.attempt(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			return respReply{}, err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) attempt(ctx context.Context, args []string) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.Close()

	rw := &respConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  p.opts.ReadTimeout,
		writeTimeout: p.opts.WriteTimeout,
	}
	if err := p.handshake(rw); err != nil {
		return respReply{}, err
	}
	if err := rw.send(args); err != nil {
		return respReply{}, err
	}
	return rw.receive()
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.opts.DialTimeout}
	if !p.opts.TLS {
		return dialer.DialContext(ctx, "tcp", p.opts.Addr)
	}
	host := p.opts.Addr
	if h, _, err := net.SplitHostPort(p.opts.Addr); err == nil {
		host = h
	}
	return tls.DialWithDialer(&dialer, "tcp", p.opts.Addr, &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	})
}

func (p *ValkeyProvider) handshake(rw *respConn) error {
	if p.opts.Password != "" {
		cmd := []string{"AUTH"}
		if p.opts.Username != "" {
			cmd = append(cmd, p.opts.Username)
		}
		cmd = append(cmd, p.opts.Password)
		if err := expectOK(rw, cmd); err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
	}
	if p.opts.DB > 0 {
		if err := expectOK(rw, []string{"SELECT", strconv.Itoa(p.opts.DB)}); err != nil {
			return fmt.Errorf("valkey select db %d: %w", p.opts.DB, err)
		}
	}
	return nil
}

func expectOK(rw *respConn, cmd []string) error {
	if err := rw.send(cmd); err != nil {
		return err
	}
	reply, err := rw.receive()
	if err != nil {
		return err
	}
	if !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply: %s", reply.data)
	}
	return nil
}

// respConn frames RESP commands and replies over one connection.
type respConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) send(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.w, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.w, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.w.Flush()
}

func (c *respConn) receive() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.line()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		return respReply{data: line}, nil
	case '-':
		return respReply{}, fmt.Errorf("valkey error: %s", line)
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bad bulk length %q", line)
		}
		if size < 0 {
			return respReply{isNil: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("bulk string missing terminator")
		}
		return respReply{data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) line() ([]byte, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
