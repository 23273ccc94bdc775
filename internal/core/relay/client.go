package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// relayTag 持有预留的中继连接不参与空闲回收
const relayTag = "relay"

const (
	// retryInterval 预留失败后的重试间隔
	retryInterval = 30 * time.Second

	// minRefresh 续期最短间隔
	minRefresh = 10 * time.Second
)

// Client 中继客户端：在静态中继上保持预留
type Client struct {
	host  pkgif.Host
	cfg   Config
	clock clock.Clock

	mu           sync.RWMutex
	reservations map[types.PeerID]*reservation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient 创建中继客户端
func NewClient(h pkgif.Host, cfg Config, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		host:         h,
		cfg:          cfg,
		clock:        clk,
		reservations: make(map[types.PeerID]*reservation),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start 为每个静态中继启动预留维护
func (c *Client) Start() {
	for _, ai := range c.cfg.StaticRelays {
		c.wg.Add(1)
		go c.keepReservation(ai)
	}
}

// Stop 停止维护并释放中继连接的保护
func (c *Client) Stop() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.reservations {
		c.host.Unprotect(p, relayTag)
	}
	c.reservations = make(map[types.PeerID]*reservation)
}

func (c *Client) keepReservation(ai pkgif.AddrInfo) {
	defer c.wg.Done()

	for {
		wait := retryInterval
		res, err := c.Reserve(c.ctx, ai)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Warn("中继预留失败", "relay", ai.ID.ShortString(), "err", err)
		} else {
			wait = res.Expire.Sub(c.clock.Now()) / 2
			if wait < minRefresh {
				wait = minRefresh
			}
		}

		select {
		case <-c.clock.After(wait):
		case <-c.ctx.Done():
			return
		}
	}
}

// Reserve 在中继上建立或续期预留
func (c *Client) Reserve(ctx context.Context, ai pkgif.AddrInfo) (*reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	if err := c.host.Connect(ctx, ai); err != nil {
		return nil, err
	}
	st, err := c.host.NewStream(ctx, ai.ID, HopProtocol)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	dl, _ := ctx.Deadline()
	_ = st.SetDeadline(dl)

	if err := writeMessage(st, &message{Type: MsgReserve}); err != nil {
		return nil, err
	}
	resp, err := readMessage(st)
	if err != nil {
		return nil, err
	}
	if resp.Type != MsgStatus {
		return nil, ErrUnexpectedMessage
	}
	if err := statusErr(resp.Status); err != nil {
		return nil, err
	}
	if resp.Reservation == nil {
		return nil, fmt.Errorf("%w: missing reservation", ErrUnexpectedMessage)
	}

	c.mu.Lock()
	c.reservations[ai.ID] = resp.Reservation
	c.mu.Unlock()
	c.host.Protect(ai.ID, relayTag)

	log.Info("中继预留成功", "relay", ai.ID.ShortString(), "expire", resp.Reservation.Expire)
	return resp.Reservation, nil
}

// Relays 持有有效预留的中继
func (c *Client) Relays() []types.PeerID {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.PeerID
	for p, res := range c.reservations {
		if now.Before(res.Expire) {
			out = append(out, p)
		}
	}
	return out
}

// RelayAddrs 经由中继可达的本机地址
func (c *Client) RelayAddrs() []multiaddr.Multiaddr {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []multiaddr.Multiaddr
	for _, res := range c.reservations {
		if !now.Before(res.Expire) {
			continue
		}
		for _, a := range res.Addrs {
			out = append(out, a.Encapsulate(circuitListenAddr))
		}
	}
	return multiaddr.Unique(out)
}
