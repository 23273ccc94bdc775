package gossipsub

import (
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              心跳
// ============================================================================

func (r *Router) heartbeatLoop() {
	defer r.wg.Done()

	select {
	case <-r.ctx.Done():
		return
	case <-r.clock.After(r.cfg.HeartbeatInitialDelay):
	}
	r.heartbeat()

	t := r.clock.Ticker(r.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.heartbeat()
		}
	}
}

// heartbeat 修复 mesh、发送 IHAVE、滑动消息缓存
//
// 每个节点的控制消息合并为一个 RPC。
func (r *Router) heartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	out := make(map[types.PeerID]*control)
	ctl := func(p types.PeerID) *control {
		c, ok := out[p]
		if !ok {
			c = &control{}
			out[p] = c
		}
		return c
	}

	r.expireBackoffLocked()
	for topic, mesh := range r.mesh {
		for p := range mesh {
			_, connected := r.peers[p]
			_, subscribed := r.topics[topic][p]
			if !connected || !subscribed {
				delete(mesh, p)
				r.updateProtectionLocked(p)
			}
		}

		if len(mesh) < r.cfg.Dlo {
			for _, p := range r.graftCandidatesLocked(topic, r.cfg.D-len(mesh)) {
				mesh[p] = struct{}{}
				c := ctl(p)
				c.Graft = append(c.Graft, graft{Topic: topic})
				r.updateProtectionLocked(p)
			}
		}

		if len(mesh) > r.cfg.Dhi {
			members := make([]types.PeerID, 0, len(mesh))
			for p := range mesh {
				members = append(members, p)
			}
			for _, p := range pickRandom(members, len(mesh)-r.cfg.D) {
				delete(mesh, p)
				r.setBackoffLocked(topic, p, r.cfg.PruneBackoff)
				c := ctl(p)
				c.Prune = append(c.Prune, r.pruneFor(topic))
				r.updateProtectionLocked(p)
			}
		}

		ids := r.mcache.gossipIDs(topic)
		if len(ids) > r.cfg.MaxIHaveLength {
			ids = ids[len(ids)-r.cfg.MaxIHaveLength:]
		}
		if len(ids) > 0 {
			for _, p := range r.gossipCandidatesLocked(topic, r.cfg.Dlazy) {
				c := ctl(p)
				c.IHave = append(c.IHave, ihave{Topic: topic, IDs: ids})
			}
		}
	}

	for p, c := range out {
		r.sendLocked(p, &rpc{Control: c})
	}
	r.mcache.shift()
}
