package retoro

import (
	"context"
	"slices"

	"github.com/retoro/go-retoro/internal/core/storage"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              内部事件转换
// ============================================================================

func (n *Node) onDiscovered(ctx context.Context, e pkgif.EvtPeerDiscovered) {
	if n.isSelf(e.Peer) {
		return
	}
	log.Debug("发现节点", "peer", e.Peer.ShortString(), "addrs", len(e.Addrs))

	if len(e.Addrs) > 0 {
		n.caps.Host.Peerstore().AddAddrs(e.Peer, e.Addrs, pkgif.DiscoveredAddrTTL)
	}
	if _, ok := n.explicit[e.Peer]; !ok {
		n.explicit[e.Peer] = struct{}{}
		n.caps.PubSub.AddExplicitPeer(e.Peer)
	}
	n.dialAsync(ctx, pkgif.AddrInfo{ID: e.Peer, Addrs: e.Addrs})
	n.emit(DiscoveredNode{Peer: e.Peer, Addrs: slices.Clone(e.Addrs)})
}

func (n *Node) onExpired(e pkgif.EvtPeerExpired) {
	if _, ok := n.explicit[e.Peer]; !ok {
		return
	}
	delete(n.explicit, e.Peer)
	n.caps.PubSub.RemoveExplicitPeer(e.Peer)
	log.Debug("节点过期", "peer", e.Peer.ShortString())
}

func (n *Node) onIdentified(e pkgif.EvtIdentifyCompleted) {
	if !e.Info.ObservedAddr.IsEmpty() {
		n.caps.Host.AddObservedAddr(e.Info.ObservedAddr)
	}
	n.rememberNode(NodeRepr{Name: e.Info.DisplayName, PeerID: e.Peer}, e.Info.ListenAddrs)
}

func (n *Node) onGossip(e pkgif.EvtGossipMessage) {
	msg, err := DecodeMessage(e.Data)
	if err != nil {
		log.Debug("丢弃无法解码的消息", "topic", e.Topic, "from", e.Source.ShortString(), "err", err)
		return
	}
	n.emit(ReceivedMessage{
		Message: msg,
		Source:  ChannelSource{Name: e.Topic, Propagator: e.Propagator},
	})

	author, err := types.PeerIDFromBytes(msg.AuthorID)
	if err != nil {
		author = e.Source
	}
	repr := NodeRepr{Name: msg.AuthorName, PeerID: author}
	if ch, ok := n.channels[e.Topic]; ok {
		ch.append(msg)
		ch.remember(repr)
		n.publishChannels()
	}
	n.rememberNode(repr, nil)
}

func (n *Node) onLocalAddrs(e pkgif.EvtLocalAddrsUpdated) {
	log.Info("本机地址更新", "current", multiaddr.Strings(e.Current), "added", len(e.Added))
}

// ============================================================================
//                              已知节点
// ============================================================================

// rememberNode 记录节点，名称或地址变化时写入存储
func (n *Node) rememberNode(r NodeRepr, addrs []multiaddr.Multiaddr) {
	if r.PeerID.IsEmpty() || n.isSelf(r.PeerID) {
		return
	}
	prev, existed := n.known.Get(r.PeerID)
	entry := knownNode{repr: r, addrs: prev.addrs, lastSeen: n.clk.Now()}
	if r.Name == "" {
		entry.repr.Name = prev.repr.Name
	}
	if len(addrs) > 0 {
		entry.addrs = multiaddr.Unique(append(slices.Clone(addrs), prev.addrs...))
	}
	n.known.Add(r.PeerID, entry)

	changed := !existed || entry.repr.Name != prev.repr.Name || len(entry.addrs) != len(prev.addrs)
	if n.nodeStore == nil || !changed {
		return
	}
	rec := storage.NodeRecord{
		ID:       r.PeerID,
		Name:     entry.repr.Name,
		Addrs:    entry.addrs,
		LastSeen: entry.lastSeen,
	}
	if err := n.nodeStore.Put(rec); err != nil {
		log.Warn("保存已知节点失败", "peer", r.PeerID.ShortString(), "err", err)
	}
}
