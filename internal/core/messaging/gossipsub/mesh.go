package gossipsub

import (
	"math/rand/v2"
	"time"

	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              Mesh 维护
// ============================================================================

// graftCandidatesLocked 随机选出至多 n 个可加入 mesh 的订阅者
//
// 排除已在 mesh 中、显式节点和退避期内的节点。
func (r *Router) graftCandidatesLocked(topic string, n int) []types.PeerID {
	if n <= 0 {
		return nil
	}
	mesh := r.mesh[topic]
	var out []types.PeerID
	for p := range r.topics[topic] {
		if _, ok := r.peers[p]; !ok {
			continue
		}
		if _, ok := mesh[p]; ok {
			continue
		}
		if _, ok := r.explicit[p]; ok {
			continue
		}
		if r.inBackoffLocked(topic, p) {
			continue
		}
		out = append(out, p)
	}
	return pickRandom(out, n)
}

// gossipCandidatesLocked IHAVE 的目标：不在 mesh 中的订阅者
func (r *Router) gossipCandidatesLocked(topic string, n int) []types.PeerID {
	mesh := r.mesh[topic]
	var out []types.PeerID
	for p := range r.topics[topic] {
		if _, ok := r.peers[p]; !ok {
			continue
		}
		if _, ok := mesh[p]; ok {
			continue
		}
		if _, ok := r.explicit[p]; ok {
			continue
		}
		out = append(out, p)
	}
	return pickRandom(out, n)
}

func pickRandom(in []types.PeerID, n int) []types.PeerID {
	rand.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })
	if len(in) > n {
		in = in[:n]
	}
	return in
}

func (r *Router) pruneFor(topic string) prune {
	return prune{Topic: topic, Backoff: uint64(r.cfg.PruneBackoff / time.Second)}
}

// ============================================================================
//                              退避
// ============================================================================

func (r *Router) setBackoffLocked(topic string, p types.PeerID, d time.Duration) {
	m, ok := r.backoff[topic]
	if !ok {
		m = make(map[types.PeerID]int64)
		r.backoff[topic] = m
	}
	until := r.clock.Now().Add(d).UnixNano()
	if until > m[p] {
		m[p] = until
	}
}

func (r *Router) inBackoffLocked(topic string, p types.PeerID) bool {
	until, ok := r.backoff[topic][p]
	return ok && r.clock.Now().UnixNano() < until
}

func (r *Router) expireBackoffLocked() {
	now := r.clock.Now().UnixNano()
	for topic, m := range r.backoff {
		for p, until := range m {
			if now >= until {
				delete(m, p)
			}
		}
		if len(m) == 0 {
			delete(r.backoff, topic)
		}
	}
}

func secondsToDuration(s uint64) time.Duration {
	const maxBackoff = 24 * time.Hour
	if s > uint64(maxBackoff/time.Second) {
		return maxBackoff
	}
	return time.Duration(s) * time.Second
}
