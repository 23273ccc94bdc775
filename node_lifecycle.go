package retoro

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 15 * time.Second

	// inboundBufSize 内部订阅缓冲；无损订阅满时发射方等待
	inboundBufSize = 256
)

// inbound 运行时订阅的内部事件
type inbound struct {
	gossip     pkgif.Subscription
	discovered pkgif.Subscription
	expired    pkgif.Subscription
	identify   pkgif.Subscription
	addrs      pkgif.Subscription
}

func (n *Node) subscribe() (*inbound, error) {
	bus := n.caps.Host.EventBus()
	in := &inbound{}
	// 协调循环自己会触发地址更新（AddObservedAddr），该订阅不能阻塞发射方
	targets := []struct {
		sub      *pkgif.Subscription
		evt      interface{}
		lossless bool
	}{
		{&in.gossip, new(pkgif.EvtGossipMessage), true},
		{&in.discovered, new(pkgif.EvtPeerDiscovered), true},
		{&in.expired, new(pkgif.EvtPeerExpired), true},
		{&in.identify, new(pkgif.EvtIdentifyCompleted), true},
		{&in.addrs, new(pkgif.EvtLocalAddrsUpdated), false},
	}
	for _, t := range targets {
		opts := []pkgif.SubscriptionOpt{pkgif.BufSize(inboundBufSize)}
		if t.lossless {
			opts = append(opts, pkgif.Lossless())
		}
		sub, err := bus.Subscribe(t.evt, opts...)
		if err != nil {
			in.close()
			return nil, err
		}
		*t.sub = sub
	}
	return in, nil
}

func (in *inbound) close() {
	for _, s := range []pkgif.Subscription{in.gossip, in.discovered, in.expired, in.identify, in.addrs} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// ============================================================================
//                              Run
// ============================================================================

// Run 启动节点并运行协调循环，直到停止
//
// 以下任一情况停止：收到 Shutdown 命令；所有命令句柄已关闭且已入队的命令
// 处理完毕；ctx 取消。只有启动阶段的致命错误会返回非 nil。Run 只能调用一次。
func (n *Node) Run(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	rctx, cancel := context.WithCancel(ctx)
	var in *inbound
	defer func() {
		cancel()
		n.teardown(in)
	}()

	var err error
	if in, err = n.subscribe(); err != nil {
		return fmt.Errorf("%w: subscribe: %w", ErrSwarm, err)
	}

	if err := n.start(rctx); err != nil {
		return err
	}
	n.setState(StateRunning)
	log.Info("节点已运行", "id", n.ID(), "name", n.cfg.Name)

	n.loop(rctx, in)
	return nil
}

// Close 释放从未运行的节点，可重复调用
//
// 之后调用 Run 返回 ErrAlreadyRunning。已调用过 Run 的节点由 Run 退出时释放，
// 此时 Close 不做任何事。
func (n *Node) Close() error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	n.teardown(nil)
	return nil
}

// start 初始化与监听阶段
func (n *Node) start(ctx context.Context) error {
	n.setState(StateInitializing)
	if n.app != nil {
		sctx, cancel := context.WithTimeout(ctx, startTimeout)
		err := n.app.Start(sctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: start components: %w", ErrSwarm, err)
		}
	}

	if err := n.caps.Host.Listen(n.cfg.listen...); err != nil {
		return fmt.Errorf("%w: listen: %w", ErrSwarm, err)
	}
	log.Info("开始监听", "addrs", n.Addrs())

	if len(n.cfg.bootstrap) > 0 {
		for _, err := range n.caps.Discovery.Bootstrap(ctx, n.cfg.bootstrap) {
			n.emitError(fmt.Errorf("%w: bootstrap: %w", ErrSwarm, err))
		}
	}
	n.restoreKnownNodes(ctx)

	n.setState(StateListening)
	if err := n.caps.PubSub.Join(MainChannel); err != nil {
		return fmt.Errorf("%w: join %q: %w", ErrSwarm, MainChannel, err)
	}
	n.joined(MainChannel)
	return nil
}

// joined 记录已加入的频道
func (n *Node) joined(name string) {
	if _, ok := n.channels[name]; !ok {
		n.channels[name] = newChannelState(name, n.cfg.RecentMessages)
	}
	if n.channelStore != nil {
		if err := n.channelStore.Add(name); err != nil {
			log.Warn("保存频道失败", "channel", name, "err", err)
		}
	}
	n.publishChannels()
	n.emit(JoinedChannel{Channel: name})
}

// restoreKnownNodes 载入持久化的已知节点并尝试拨号一次
func (n *Node) restoreKnownNodes(ctx context.Context) {
	if n.nodeStore == nil {
		return
	}
	records, err := n.nodeStore.All()
	if err != nil {
		log.Warn("读取已知节点失败", "err", err)
		return
	}
	self := n.ID()
	for _, r := range records {
		if r.ID == self {
			continue
		}
		n.known.Add(r.ID, knownNode{
			repr:     NodeRepr{Name: r.Name, PeerID: r.ID},
			addrs:    r.Addrs,
			lastSeen: r.LastSeen,
		})
		if len(r.Addrs) > 0 {
			n.dialAsync(ctx, pkgif.AddrInfo{ID: r.ID, Addrs: r.Addrs})
		}
	}
	log.Debug("已载入已知节点", "count", len(records))
}

// dialAsync 尽力拨号一次，不重试
func (n *Node) dialAsync(ctx context.Context, pi pkgif.AddrInfo) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.caps.Host.Connect(ctx, pi); err != nil {
			log.Debug("拨号失败", "peer", pi.ID.ShortString(), "err", err)
		}
	}()
}

// teardown 停止组件并结束所有订阅者
func (n *Node) teardown(in *inbound) {
	n.queue.close()
	if in != nil {
		in.close()
	}
	n.wg.Wait()

	var err error
	if n.app != nil {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		err = multierr.Append(err, n.app.Stop(sctx))
		cancel()
	}
	if err != nil {
		log.Warn("停止组件失败", "err", err)
	}
	n.setState(StateStopped)
	n.events.Close()
	log.Info("节点已停止", "id", n.ID())
}

// ============================================================================
//                              协调循环
// ============================================================================

func (n *Node) loop(ctx context.Context, in *inbound) {
	var (
		gossip     = in.gossip.Out()
		discovered = in.discovered.Out()
		expired    = in.expired.Out()
		identified = in.identify.Out()
		addrs      = in.addrs.Out()
	)
	for {
		select {
		case cmd := <-n.queue.ch:
			if !n.handleCommand(ctx, cmd) {
				return
			}

		case <-n.queue.idle:
			n.drain(ctx)
			log.Info("所有命令句柄已关闭")
			return

		case e, ok := <-gossip:
			if !ok {
				gossip = nil
				continue
			}
			n.onGossip(e.(pkgif.EvtGossipMessage))

		case e, ok := <-discovered:
			if !ok {
				discovered = nil
				continue
			}
			n.onDiscovered(ctx, e.(pkgif.EvtPeerDiscovered))

		case e, ok := <-expired:
			if !ok {
				expired = nil
				continue
			}
			n.onExpired(e.(pkgif.EvtPeerExpired))

		case e, ok := <-identified:
			if !ok {
				identified = nil
				continue
			}
			n.onIdentified(e.(pkgif.EvtIdentifyCompleted))

		case e, ok := <-addrs:
			if !ok {
				addrs = nil
				continue
			}
			n.onLocalAddrs(e.(pkgif.EvtLocalAddrsUpdated))

		case <-ctx.Done():
			log.Info("上下文已取消", "err", ctx.Err())
			return
		}
	}
}

// drain 处理已入队的命令
func (n *Node) drain(ctx context.Context) {
	for {
		select {
		case cmd := <-n.queue.ch:
			if !n.handleCommand(ctx, cmd) {
				return
			}
		default:
			return
		}
	}
}

// isSelf 是否为本机
func (n *Node) isSelf(p types.PeerID) bool {
	return p == n.ID()
}
