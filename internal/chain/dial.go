package chain

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Conn bundles the typed clients built on one RPC connection.
type Conn struct {
	RPC  *rpc.Client
	Eth  *ethclient.Client
	Geth *gethclient.Client
	Head uint64
}

func (c *Conn) Close() {
	if c != nil && c.RPC != nil {
		c.RPC.Close()
	}
}

type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Tries bounds the number of dial attempts; 0 means until ctx is done.
	Tries int
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Dial connects to url and confirms the endpoint answers eth_blockNumber,
// retrying with jittered exponential backoff.
func Dial(ctx context.Context, url string, b Backoff) (*Conn, error) {
	b = b.withDefaults()
	delay := b.Base
	for try := 1; ; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rc, err := rpc.DialContext(ctx, url)
		if err == nil {
			eth := ethclient.NewClient(rc)
			head, headErr := eth.BlockNumber(ctx)
			if headErr == nil {
				return &Conn{RPC: rc, Eth: eth, Geth: gethclient.New(rc), Head: head}, nil
			}
			rc.Close()
			err = fmt.Errorf("failed to fetch head: %w", headErr)
		}
		if b.Tries > 0 && try >= b.Tries {
			return nil, fmt.Errorf("dial %s: giving up after %d tries: %w", redactURL(url), try, err)
		}

		wait := jitterDuration(delay)
		log.Printf("[warn] failed to connect %s, retrying in %s: %v", redactURL(url), wait, err)
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
		if delay > b.Max {
			delay = b.Max
		}
	}
}

// IsStreaming reports whether url supports eth_subscribe (websocket or IPC).
func IsStreaming(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	switch {
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
		return true
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return false
	default:
		return u != ""
	}
}

// redactURL keeps scheme and host so API keys embedded in paths stay out of logs.
func redactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	host, _, _ := strings.Cut(rest, "/")
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	return scheme + "://" + host
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(j*2)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
