package p2p

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// SlateHandler receives a decrypted slate and its authenticated sender.
type SlateHandler func(ctx context.Context, from types.Address, payload []byte)

type slateListener struct {
	addr    types.Address
	key     *crypto.PrivateKey
	sub     *pubsub.Subscription
	handler SlateHandler
}

// joinTopic returns the topic, joining it and installing the slate
// validator on first use. Callers hold slateMu.
func (n *Node) joinTopic(name string) (*pubsub.Topic, error) {
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	if err := n.pubsub.RegisterTopicValidator(name, n.validateSlate); err != nil {
		return nil, fmt.Errorf("register validator %s: %w", name, err)
	}
	t, err := n.pubsub.Join(name)
	if err != nil {
		n.pubsub.UnregisterTopicValidator(name)
		return nil, fmt.Errorf("join %s: %w", name, err)
	}
	n.topics[name] = t
	return t, nil
}

// validateSlate drops malformed or forged slate messages before they are
// delivered or forwarded, and penalizes the peer that relayed them.
func (n *Node) validateSlate(_ context.Context, from peer.ID, msg *pubsub.Message) bool {
	if msg.GetFrom() == n.host.ID() {
		return true
	}
	if _, _, err := decodeSlateMessage(msg.Data, msg.GetTopic()); err != nil {
		log.P2P.Debug().Err(err).Str("peer", shortID(from)).Msg("Rejecting slate message")
		if n.BanManager != nil {
			n.BanManager.RecordOffense(from, PenaltyInvalidSlate, err.Error())
		}
		return false
	}
	return true
}

// Listen subscribes to the topic of key's address on the node's network.
// Slates that decrypt under key are passed to handler.
func (n *Node) Listen(key *crypto.PrivateKey, handler SlateHandler) (types.Address, error) {
	if n.pubsub == nil {
		return types.Address{}, fmt.Errorf("p2p node not started")
	}
	addr := types.Address{Network: n.config.Network, PublicKey: key.PubKey()}
	name := SlateTopic(addr)

	n.slateMu.Lock()
	defer n.slateMu.Unlock()
	if _, ok := n.listeners[name]; ok {
		return addr, nil
	}
	t, err := n.joinTopic(name)
	if err != nil {
		return types.Address{}, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return types.Address{}, fmt.Errorf("subscribe %s: %w", name, err)
	}
	l := &slateListener{addr: addr, key: key, sub: sub, handler: handler}
	n.listeners[name] = l
	go n.readLoop(l)

	log.P2P.Info().Str("address", addr.Stripped()).Msg("Listening for slates")
	return addr, nil
}

// Unlisten cancels the subscription for addr.
func (n *Node) Unlisten(addr types.Address) {
	name := SlateTopic(addr)
	n.slateMu.Lock()
	defer n.slateMu.Unlock()
	if l, ok := n.listeners[name]; ok {
		l.sub.Cancel()
		delete(n.listeners, name)
	}
}

// Send encrypts payload for to and publishes it on to's topic. It waits
// until at least one peer is on the topic or ctx is done.
func (n *Node) Send(ctx context.Context, key *crypto.PrivateKey, to types.Address, payload []byte) error {
	if n.pubsub == nil {
		return werr.Wrap(werr.ErrTransport, "p2p node not started")
	}
	if to.Network != n.config.Network {
		return werr.Entity(werr.Wrap(werr.ErrInvalidAddress, "wrong network %s", to.Network), "address", to.Stripped())
	}
	from := types.Address{Network: n.config.Network, PublicKey: key.PubKey()}
	sender := from.PublicKey

	env, err := relay.Seal(payload, to.PublicKey, &sender)
	if err != nil {
		return err
	}
	str, err := env.Marshal()
	if err != nil {
		return err
	}
	name := SlateTopic(to)
	msg, err := newSlateMessage(key, from, str, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	n.slateMu.Lock()
	t, err := n.joinTopic(name)
	n.slateMu.Unlock()
	if err != nil {
		return werr.Wrap(werr.ErrTransport, "%v", err)
	}
	if err := t.Publish(ctx, data, pubsub.WithReadiness(pubsub.MinTopicSize(1))); err != nil {
		return werr.Wrap(werr.ErrTransport, "publish to %s: %v", to.Stripped(), err)
	}
	metrics.RelaySent()
	return nil
}

func (n *Node) readLoop(l *slateListener) {
	topic := l.sub.Topic()
	for {
		msg, err := l.sub.Next(n.ctx)
		if err != nil {
			return // Cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.addPeer(msg.ReceivedFrom)
		n.deliver(l, topic, msg)
	}
}

func (n *Node) deliver(l *slateListener, topic string, msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.P2P.Error().Interface("panic", r).Msg("Slate handler panicked")
		}
	}()

	m, from, err := decodeSlateMessage(msg.Data, topic)
	if err != nil {
		return
	}
	env, err := relay.ParseEnvelope(m.Envelope)
	if err != nil {
		log.P2P.Warn().Err(err).Str("from", from.Stripped()).Msg("Dropping undecodable slate")
		return
	}
	if env.Sender == nil || *env.Sender != from.PublicKey {
		log.P2P.Warn().Str("from", from.Stripped()).Msg("Dropping slate whose envelope sender does not match")
		return
	}
	payload, err := relay.Open(env, l.key)
	if err != nil {
		log.P2P.Warn().Err(err).Str("from", from.Stripped()).Msg("Dropping slate that failed to decrypt")
		return
	}
	metrics.RelayReceived()
	if l.handler != nil {
		l.handler(n.ctx, from, payload)
	}
}
