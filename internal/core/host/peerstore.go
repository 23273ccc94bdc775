package host

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// peerRecord 单个节点的地址与公钥
type peerRecord struct {
	addrs map[string]addrEntry
	key   crypto.PublicKey
}

type addrEntry struct {
	addr    multiaddr.Multiaddr
	expires time.Time
}

// peerstore 基于 LRU 的地址簿，超出容量时淘汰最久未使用的节点
type peerstore struct {
	mu    sync.Mutex
	clock clock.Clock
	cache *lru.Cache[types.PeerID, *peerRecord]
}

var _ pkgif.Peerstore = (*peerstore)(nil)

func newPeerstore(size int, clk clock.Clock) (*peerstore, error) {
	c, err := lru.New[types.PeerID, *peerRecord](size)
	if err != nil {
		return nil, err
	}
	return &peerstore{clock: clk, cache: c}, nil
}

func (ps *peerstore) record(p types.PeerID) *peerRecord {
	rec, ok := ps.cache.Get(p)
	if !ok {
		rec = &peerRecord{addrs: make(map[string]addrEntry)}
		ps.cache.Add(p, rec)
	}
	return rec
}

// AddAddrs 添加地址；已有地址只延长有效期
func (ps *peerstore) AddAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration) {
	if len(addrs) == 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	rec := ps.record(p)
	exp := ps.clock.Now().Add(ttl)
	for _, a := range addrs {
		a, _, _ = a.SplitPeer()
		if a.IsEmpty() {
			continue
		}
		k := a.String()
		if cur, ok := rec.addrs[k]; ok && cur.expires.After(exp) {
			continue
		}
		rec.addrs[k] = addrEntry{addr: a, expires: exp}
	}
}

// Addrs 返回未过期的地址
func (ps *peerstore) Addrs(p types.PeerID) []multiaddr.Multiaddr {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	rec, ok := ps.cache.Get(p)
	if !ok {
		return nil
	}
	now := ps.clock.Now()
	out := make([]multiaddr.Multiaddr, 0, len(rec.addrs))
	for k, e := range rec.addrs {
		if now.After(e.expires) {
			delete(rec.addrs, k)
			continue
		}
		out = append(out, e.addr)
	}
	return out
}

func (ps *peerstore) ClearAddrs(p types.PeerID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if rec, ok := ps.cache.Peek(p); ok {
		rec.addrs = make(map[string]addrEntry)
	}
}

// AddPubKey 记录公钥，公钥必须与 PeerID 匹配
func (ps *peerstore) AddPubKey(p types.PeerID, key crypto.PublicKey) error {
	if err := crypto.VerifyPeerID(key, p); err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.record(p).key = key
	return nil
}

func (ps *peerstore) PubKey(p types.PeerID) crypto.PublicKey {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if rec, ok := ps.cache.Peek(p); ok {
		return rec.key
	}
	return nil
}

func (ps *peerstore) Peers() []types.PeerID {
	return ps.cache.Keys()
}
