package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Hub defaults.
const (
	DefaultMaxSubscriptions = 8
	DefaultRateLimit        = rate.Limit(20)
	DefaultRateBurst        = 40
	DefaultSendBuffer       = 64
	DefaultIdleTimeout      = 2 * DefaultPingInterval
	maxFrameSize            = 1 << 20
)

// HubConfig configures a Hub. Zero values take the defaults.
type HubConfig struct {
	MaxSubscriptions int
	RateLimit        rate.Limit // requests per second per connection
	RateBurst        int
	SendBuffer       int
	IdleTimeout      time.Duration
}

func (cfg *HubConfig) setDefaults() {
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
}

// Hub is an in-memory relay. It forwards slates to currently subscribed
// connections only; nothing is stored.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	subs  map[string]*hubConn // stripped address → subscriber
	conns map[*hubConn]struct{}
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	cfg.setDefaults()
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs:  make(map[string]*hubConn),
		conns: make(map[*hubConn]struct{}),
	}
}

type hubConn struct {
	hub       *Hub
	ws        *websocket.Conn
	challenge string
	limiter   *rate.Limiter
	send      chan Response
	addrs     map[string]struct{} // guarded by hub.mu

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newChallenge() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ServeHTTP upgrades the request and serves one relay connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Relay.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &hubConn{
		hub:       h,
		ws:        ws,
		challenge: newChallenge(),
		limiter:   rate.NewLimiter(h.cfg.RateLimit, h.cfg.RateBurst),
		send:      make(chan Response, h.cfg.SendBuffer),
		addrs:     make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.HubConnection(1)

	go c.writeLoop()
	c.enqueue(Response{Type: RespChallenge, Str: c.challenge})
	c.readLoop()
	c.close()
}

func (c *hubConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close()

		h := c.hub
		h.mu.Lock()
		for addr := range c.addrs {
			if h.subs[addr] == c {
				delete(h.subs, addr)
			}
		}
		delete(h.conns, c)
		h.mu.Unlock()
		metrics.HubConnection(-1)
	})
}

func (c *hubConn) extendDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.IdleTimeout))
}

func (c *hubConn) readLoop() {
	c.extendDeadline()
	c.ws.SetPingHandler(func(data string) error {
		c.extendDeadline()
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.extendDeadline()
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		req, err := ParseRequest(data)
		if err != nil {
			c.enqueue(errorResponse(ErrKindInvalidRequest, "%v", err))
			continue
		}
		c.enqueue(c.hub.handle(c, req))
	}
}

func (c *hubConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case resp := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(resp); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue queues resp for the writer. It reports false when the connection
// is closed or its buffer is full.
func (c *hubConn) enqueue(resp Response) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- resp:
		return true
	default:
		return false
	}
}

func (h *Hub) handle(c *hubConn, req *Request) Response {
	switch req.Type {
	case ReqChallenge:
		return Response{Type: RespChallenge, Str: c.challenge}
	case ReqSubscribe:
		return h.subscribe(c, req)
	case ReqUnsubscribe:
		return h.unsubscribe(c, req)
	case ReqPostSlate:
		return h.post(c, req)
	default:
		return errorResponse(ErrKindUnknown, "unhandled request %s", req.Type)
	}
}

func (h *Hub) subscribe(c *hubConn, req *Request) Response {
	addr, err := types.DecodeAddress(req.Address)
	if err != nil {
		return errorResponse(ErrKindInvalidRequest, "%v", err)
	}
	if !crypto.VerifyMessage([]byte(c.challenge), req.Signature, addr.PublicKey) {
		return errorResponse(ErrKindInvalidSignature, "subscribe signature does not match %s", addr.Stripped())
	}
	key := addr.Stripped()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.addrs[key]; !ok && len(c.addrs) >= h.cfg.MaxSubscriptions {
		return errorResponse(ErrKindTooManySubscriptions, "limit %d", h.cfg.MaxSubscriptions)
	}
	if prev, ok := h.subs[key]; ok && prev != c {
		delete(prev.addrs, key)
	}
	h.subs[key] = c
	c.addrs[key] = struct{}{}
	log.Relay.Debug().Str("address", key).Msg("Subscribed")
	return okResponse()
}

func (h *Hub) unsubscribe(c *hubConn, req *Request) Response {
	addr, err := types.DecodeAddress(req.Address)
	if err != nil {
		return errorResponse(ErrKindInvalidRequest, "%v", err)
	}
	key := addr.Stripped()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[key] == c {
		delete(h.subs, key)
	}
	delete(c.addrs, key)
	return okResponse()
}

func (h *Hub) post(c *hubConn, req *Request) Response {
	from, err := types.DecodeAddress(req.From)
	if err != nil {
		return errorResponse(ErrKindInvalidRequest, "from: %v", err)
	}
	to, err := types.DecodeAddress(req.To)
	if err != nil {
		return errorResponse(ErrKindInvalidRequest, "to: %v", err)
	}
	if !crypto.VerifyMessage(postMessage(req.Str, c.challenge), req.Signature, from.PublicKey) {
		return errorResponse(ErrKindInvalidSignature, "post signature does not match %s", from.Stripped())
	}

	h.mu.Lock()
	target := h.subs[to.Stripped()]
	h.mu.Unlock()
	if target == nil {
		return errorResponse(ErrKindRecipientOffline, "%s", to.Stripped())
	}
	ok := target.enqueue(Response{
		Type:      RespSlate,
		From:      req.From,
		Str:       req.Str,
		Signature: req.Signature,
		Challenge: c.challenge,
	})
	if !ok {
		return errorResponse(ErrKindRecipientOffline, "%s", to.Stripped())
	}
	return okResponse()
}

// Subscribed reports whether addr has a live subscriber.
func (h *Hub) Subscribed(addr types.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[addr.Stripped()]
	return ok
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// DropAll closes every connection. Clients see a transport failure and
// reconnect.
func (h *Hub) DropAll() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
