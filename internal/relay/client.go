package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/clock"
)

// Client timing defaults.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultAuthTimeout  = 10 * time.Second
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = 32 * time.Second

	writeWait = 10 * time.Second
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Handler receives a decrypted payload and the authenticated sender.
type Handler func(ctx context.Context, from types.Address, payload []byte)

// ClientConfig configures a relay client. Zero durations take the defaults.
type ClientConfig struct {
	URL string
	Key *crypto.PrivateKey

	// Address is the subscription address. When its key is zero it is
	// derived from Key on Network.
	Address types.Address
	Network types.Network

	Handler Handler

	DialTimeout  time.Duration
	AuthTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration

	// Clock drives retry backoff and outbox timestamps. Socket deadlines
	// always use the wall clock.
	Clock clock.Clock
}

func (cfg *ClientConfig) setDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
}

// Client is a reconnecting relay subscriber and sender. Run keeps the
// subscription alive; Post may be called concurrently from any goroutine.
type Client struct {
	cfg    ClientConfig
	addr   types.Address
	outbox *Outbox

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	challenge string
	ready     chan struct{} // closed while subscribed
	waiters   []chan Response
	lastErr   error

	writeMu  sync.Mutex
	handlers sync.WaitGroup
}

// NewClient creates a client. It does not connect until Run is called.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Key == nil {
		return nil, fmt.Errorf("relay client: no key")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay client: no url")
	}
	cfg.setDefaults()
	addr := cfg.Address
	if addr.PublicKey.IsZero() {
		addr = types.Address{Network: cfg.Network, PublicKey: cfg.Key.PubKey()}
	}
	return &Client{
		cfg:    cfg,
		addr:   addr,
		outbox: NewOutbox(),
		ready:  make(chan struct{}),
	}, nil
}

// Address returns the address the client subscribes to.
func (c *Client) Address() types.Address { return c.addr }

// Outbox returns the posts still awaiting acceptance by the hub.
func (c *Client) Outbox() *Outbox { return c.outbox }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that ended the last session, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run connects, subscribes and serves incoming slates until ctx is done.
// Transport failures reconnect with exponential backoff; an authentication
// failure ends Run with ErrAuth.
func (c *Client) Run(ctx context.Context) error {
	defer c.handlers.Wait()

	retries := 0
	for {
		subscribed, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, werr.ErrAuth) {
			log.Relay.Error().Err(err).Str("address", c.addr.Stripped()).Msg("Relay rejected subscription")
			return err
		}
		if subscribed {
			retries = 0
		}
		delay := backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, retries)
		retries++
		metrics.RelayReconnect()
		log.Relay.Warn().Err(err).Dur("retry_in", delay).Msg("Relay connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-c.cfg.Clock.TickAfter(delay):
		}
	}
}

func (c *Client) session(ctx context.Context) (subscribed bool, err error) {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.DialTimeout,
	}
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := dialer.DialContext(dctx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		err = werr.Wrap(werr.ErrTransport, "dial %s: %v", c.cfg.URL, err)
		c.disconnected(err)
		return false, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.setState(StateAuthenticating)
	challenge, err := c.authenticate(conn)
	if err != nil {
		c.disconnected(err)
		return false, err
	}

	idle := c.cfg.PingInterval + c.cfg.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	c.connected(conn, challenge)
	log.Relay.Info().Str("address", c.addr.Stripped()).Str("url", c.cfg.URL).Msg("Subscribed to relay")

	pingDone := make(chan struct{})
	go c.keepalive(conn, pingDone)
	err = c.readLoop(ctx, conn, idle)
	close(pingDone)

	c.disconnected(err)
	return true, err
}

// authenticate reads the hub's challenge and subscribes with a signature
// over it. Both steps share one deadline.
func (c *Client) authenticate(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(c.cfg.AuthTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	resp, err := readResponse(conn)
	if err != nil {
		return "", err
	}
	if resp.Type != RespChallenge || resp.Str == "" {
		return "", werr.Wrap(werr.ErrTransport, "expected challenge, got %s", resp.Type)
	}
	challenge := resp.Str

	sig, err := c.cfg.Key.SignMessage([]byte(challenge))
	if err != nil {
		return "", err
	}
	req := Request{Type: ReqSubscribe, Address: c.addr.Stripped(), Signature: sig}
	if err := conn.WriteJSON(req); err != nil {
		return "", werr.Wrap(werr.ErrTransport, "subscribe: %v", err)
	}

	for {
		resp, err = readResponse(conn)
		if err != nil {
			return "", err
		}
		switch resp.Type {
		case RespOk:
			return challenge, nil
		case RespChallenge:
			continue
		case RespError:
			perr := &ProtocolError{Kind: resp.Kind, Description: resp.Description}
			if resp.Kind == ErrKindInvalidSignature || resp.Kind == ErrKindInvalidChallenge {
				return "", fmt.Errorf("%w: %w", werr.ErrAuth, perr)
			}
			return "", fmt.Errorf("%w: %w", werr.ErrTransport, perr)
		default:
			return "", werr.Wrap(werr.ErrTransport, "unexpected %s during subscribe", resp.Type)
		}
	}
}

func readResponse(conn *websocket.Conn) (*Response, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, werr.Wrap(werr.ErrTimeout, "relay read: %v", err)
		}
		return nil, werr.Wrap(werr.ErrTransport, "relay read: %v", err)
	}
	resp, err := ParseResponse(data)
	if err != nil {
		return nil, werr.Wrap(werr.ErrTransport, "%v", err)
	}
	return resp, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, idle time.Duration) error {
	for {
		resp, err := readResponse(conn)
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		switch resp.Type {
		case RespOk, RespError:
			c.deliver(*resp)
		case RespChallenge:
			c.mu.Lock()
			c.challenge = resp.Str
			c.mu.Unlock()
		case RespSlate:
			c.handlers.Add(1)
			go func(r Response) {
				defer c.handlers.Done()
				c.handleSlate(ctx, r)
			}(*resp)
		}
	}
}

func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// deliver hands an Ok or Error reply to the oldest pending request. The hub
// answers requests in order on a connection.
func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		log.Relay.Debug().Str("type", string(resp.Type)).Msg("Unsolicited relay reply")
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	ch <- resp
}

func (c *Client) handleSlate(ctx context.Context, resp Response) {
	l := log.Relay.With().Str("from", resp.From).Logger()

	from, err := types.DecodeAddress(resp.From)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping slate from invalid address")
		return
	}
	if !crypto.VerifyMessage(postMessage(resp.Str, resp.Challenge), resp.Signature, from.PublicKey) {
		l.Warn().Msg("Dropping slate with bad sender signature")
		return
	}
	env, err := ParseEnvelope(resp.Str)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping undecodable slate")
		return
	}
	if env.Sender == nil || *env.Sender != from.PublicKey {
		l.Warn().Msg("Dropping slate whose envelope sender does not match")
		return
	}
	payload, err := Open(env, c.cfg.Key)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping slate that failed to decrypt")
		return
	}
	metrics.RelayReceived()
	if c.cfg.Handler != nil {
		c.cfg.Handler(ctx, from, payload)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) connected(conn *websocket.Conn, challenge string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.challenge = challenge
	c.state = StateSubscribed
	c.lastErr = nil
	close(c.ready)
}

func (c *Client) disconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubscribed {
		c.ready = make(chan struct{})
	}
	c.conn = nil
	c.state = StateDisconnected
	if err != nil {
		c.lastErr = err
	}
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

func (c *Client) waitReady(ctx context.Context) (*websocket.Conn, string, error) {
	for {
		c.mu.Lock()
		if c.state == StateSubscribed && c.conn != nil {
			conn, challenge := c.conn, c.challenge
			c.mu.Unlock()
			return conn, challenge, nil
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// roundTrip writes req and waits for its Ok or Error reply.
func (c *Client) roundTrip(ctx context.Context, conn *websocket.Conn, req Request) (Response, error) {
	ch := make(chan Response, 1)

	c.writeMu.Lock()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return Response{}, werr.Wrap(werr.ErrTransport, "connection replaced")
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return Response{}, werr.Wrap(werr.ErrTransport, "write: %v", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, werr.Wrap(werr.ErrTransport, "connection lost")
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Post encrypts payload for to and hands it to the hub. It waits while the
// client is disconnected and retries while the recipient is offline, until
// the hub accepts the slate or ctx is done.
func (c *Client) Post(ctx context.Context, to types.Address, payload []byte) error {
	sender := c.addr.PublicKey
	env, err := Seal(payload, to.PublicKey, &sender)
	if err != nil {
		return err
	}
	str, err := env.Marshal()
	if err != nil {
		return err
	}

	id := c.outbox.add(to.Stripped(), c.cfg.Clock.Now())
	defer c.outbox.remove(id)

	var lastErr error
	for retries := 0; ; retries++ {
		err := c.postOnce(ctx, to, str)
		c.outbox.attempt(id, err)
		if err == nil {
			metrics.RelaySent()
			log.Relay.Debug().Str("to", to.Stripped()).Int("attempts", retries+1).Msg("Slate posted")
			return nil
		}
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = err
			}
			return werr.Wrap(werr.ErrTimeout, "post to %s: %v", to.Stripped(), lastErr)
		}

		var perr *ProtocolError
		if errors.As(err, &perr) {
			if perr.Kind != ErrKindRecipientOffline {
				return err
			}
		} else if !werr.IsRetryable(err) {
			return err
		}
		lastErr = err

		delay := backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, retries)
		select {
		case <-ctx.Done():
			return werr.Wrap(werr.ErrTimeout, "post to %s: %v", to.Stripped(), lastErr)
		case <-c.cfg.Clock.TickAfter(delay):
		}
	}
}

func (c *Client) postOnce(ctx context.Context, to types.Address, str string) error {
	conn, challenge, err := c.waitReady(ctx)
	if err != nil {
		return err
	}
	sig, err := c.cfg.Key.SignMessage(postMessage(str, challenge))
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, conn, Request{
		Type:      ReqPostSlate,
		From:      c.addr.String(),
		To:        to.Stripped(),
		Str:       str,
		Signature: sig,
	})
	if err != nil {
		return err
	}
	if resp.Type == RespError {
		perr := &ProtocolError{Kind: resp.Kind, Description: resp.Description}
		switch resp.Kind {
		case ErrKindRecipientOffline:
			return perr
		case ErrKindInvalidSignature, ErrKindInvalidChallenge:
			return fmt.Errorf("%w: %w", werr.ErrAuth, perr)
		default:
			return fmt.Errorf("%w: %w", werr.ErrTransport, perr)
		}
	}
	return nil
}

// backoff returns min(max, base·2^retries) plus up to 25% jitter.
func backoff(base, max time.Duration, retries int) time.Duration {
	d := max
	if retries < 32 {
		if b := base << uint(retries); b > 0 && b < max {
			d = b
		}
	}
	return d + time.Duration(rand.Int64N(int64(d/4)+1))
}

// URLFor returns the websocket URL of the relay serving addr, or fallback
// when the address names no relay.
func URLFor(addr types.Address, fallback string) string {
	if addr.Host == "" {
		return fallback
	}
	if addr.Port == 0 || addr.Port == types.DefaultRelayPort {
		return "wss://" + addr.Host
	}
	return "wss://" + net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port)))
}
