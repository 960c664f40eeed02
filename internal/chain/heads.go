package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrHeadsEnded is returned by a head source whose stream closed without an
// error and could not be re-established.
var ErrHeadsEnded = errors.New("head stream ended")

type Head struct {
	Number uint64
	Hash   common.Hash
	Time   uint64
}

func headFromHeader(h *types.Header) Head {
	return Head{Number: h.Number.Uint64(), Hash: h.Hash(), Time: h.Time}
}

// HeadSubscriber is the streaming half of *ethclient.Client.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

type SubscriptionOptions struct {
	Backoff Backoff
	// MaxReconnects bounds consecutive reconnects without a delivered head.
	MaxReconnects int
}

// Subscription delivers new heads from eth_subscribe, reconnecting when the
// subscription drops. Heads are delivered in strictly increasing order; replays
// after a reconnect are skipped.
type Subscription struct {
	dial func(ctx context.Context) (HeadSubscriber, error)
	opts SubscriptionOptions

	client     HeadSubscriber
	sub        ethereum.Subscription
	ch         chan *types.Header
	last       uint64
	delivered  bool
	reconnects int
}

func NewSubscription(url string, opts SubscriptionOptions) *Subscription {
	return newSubscription(func(ctx context.Context) (HeadSubscriber, error) {
		conn, err := Dial(ctx, url, opts.Backoff)
		if err != nil {
			return nil, err
		}
		return conn.Eth, nil
	}, opts)
}

func newSubscription(dial func(ctx context.Context) (HeadSubscriber, error), opts SubscriptionOptions) *Subscription {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	return &Subscription{dial: dial, opts: opts}
}

func (s *Subscription) Next(ctx context.Context) (Head, error) {
	for {
		if s.sub == nil {
			if err := s.connect(ctx); err != nil {
				return Head{}, err
			}
		}

		select {
		case <-ctx.Done():
			return Head{}, ctx.Err()

		case err := <-s.sub.Err():
			s.teardown()
			if err != nil {
				log.Printf("[warn] head subscription error: %v", err)
			} else {
				log.Printf("[warn] head subscription ended")
				err = ErrHeadsEnded
			}
			s.reconnects++
			if s.reconnects > s.opts.MaxReconnects {
				return Head{}, fmt.Errorf("head subscription lost after %d reconnects: %w", s.opts.MaxReconnects, err)
			}
			if err := sleepWithContext(ctx, jitterDuration(s.opts.Backoff.withDefaults().Base)); err != nil {
				return Head{}, err
			}

		case hdr := <-s.ch:
			if hdr == nil || hdr.Number == nil {
				continue
			}
			n := hdr.Number.Uint64()
			if s.delivered && n <= s.last {
				continue
			}
			s.last, s.delivered, s.reconnects = n, true, 0
			return headFromHeader(hdr), nil
		}
	}
}

func (s *Subscription) connect(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	ch := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, ch)
	if err != nil {
		client.Close()
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	s.client, s.sub, s.ch = client, sub, ch
	return nil
}

func (s *Subscription) teardown() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.client != nil {
		s.client.Close()
	}
	s.client, s.sub, s.ch = nil, nil, nil
}

func (s *Subscription) Close() { s.teardown() }

// BlockNumberer is the polling half of *ethclient.Client.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type PollerOptions struct {
	Interval time.Duration
	// MaxFailures bounds consecutive failed polls before Next gives up.
	MaxFailures int
}

// Poller turns eth_blockNumber polling into a head stream for endpoints that
// cannot subscribe.
type Poller struct {
	c    BlockNumberer
	opts PollerOptions

	last    uint64
	started bool
}

func NewPoller(c BlockNumberer, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	return &Poller{c: c, opts: opts}
}

func (p *Poller) Next(ctx context.Context) (Head, error) {
	failures := 0
	first := !p.started
	for {
		if !first {
			if err := sleepWithContext(ctx, p.opts.Interval); err != nil {
				return Head{}, err
			}
		}
		first = false

		n, err := p.c.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Head{}, ctx.Err()
			}
			failures++
			if failures >= p.opts.MaxFailures {
				return Head{}, fmt.Errorf("poll head: %d consecutive failures: %w", failures, err)
			}
			log.Printf("[warn] poll head failed (%d/%d): %v", failures, p.opts.MaxFailures, err)
			continue
		}
		failures = 0
		if p.started && n <= p.last {
			continue
		}
		p.last, p.started = n, true
		return Head{Number: n}, nil
	}
}
