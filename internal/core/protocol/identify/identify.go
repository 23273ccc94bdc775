package identify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("protocol.identify")

// ProtocolID identify 协议 ID
const ProtocolID = types.ProtocolID("/retoro/id/1.0.0")

// Config identify 配置
type Config struct {
	ProtocolVersion string
	AgentVersion    string

	// DisplayName 节点显示名称
	DisplayName string

	// Timeout 单次 identify 超时
	Timeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ProtocolVersion: "/retoro/0.0.1",
		AgentVersion:    "go-retoro",
		Timeout:         10 * time.Second,
	}
}

// Service identify 服务
type Service struct {
	host pkgif.Host
	cfg  Config

	emitter  pkgif.Emitter
	inflight singleflight.Group

	mu    sync.RWMutex
	infos map[types.PeerID]pkgif.IdentifyInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ pkgif.PeerInfo = (*Service)(nil)

// New 创建 identify 服务
func New(h pkgif.Host, cfg Config) (*Service, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	em, err := h.EventBus().Emitter(new(pkgif.EvtIdentifyCompleted))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:    h,
		cfg:     cfg,
		emitter: em,
		infos:   make(map[types.PeerID]pkgif.IdentifyInfo),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 注册处理器并订阅连接事件，每条新连接都会触发一次 identify
func (s *Service) Start() error {
	bus := s.host.EventBus()
	connSub, err := bus.Subscribe(new(pkgif.EvtPeerConnected), pkgif.BufSize(64))
	if err != nil {
		return err
	}
	discSub, err := bus.Subscribe(new(pkgif.EvtPeerDisconnected), pkgif.BufSize(64))
	if err != nil {
		connSub.Close()
		return err
	}
	s.host.SetStreamHandler(ProtocolID, s.handle)

	s.wg.Add(1)
	go s.loop(connSub, discSub)
	return nil
}

// Stop 停止服务
func (s *Service) Stop() error {
	s.host.RemoveStreamHandler(ProtocolID)
	s.cancel()
	s.wg.Wait()
	return s.emitter.Close()
}

func (s *Service) loop(connSub, discSub pkgif.Subscription) {
	defer s.wg.Done()
	defer connSub.Close()
	defer discSub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-connSub.Out():
			if !ok {
				return
			}
			evt := e.(pkgif.EvtPeerConnected)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.identifyConn(s.ctx, evt.Conn); err != nil {
					log.Debug("identify 失败", "peer", evt.Peer.ShortString(), "err", err)
				}
			}()
		case e, ok := <-discSub.Out():
			if !ok {
				return
			}
			p := e.(pkgif.EvtPeerDisconnected).Peer
			s.mu.Lock()
			delete(s.infos, p)
			s.mu.Unlock()
		}
	}
}

// handle 写出本机信息
func (s *Service) handle(st pkgif.Stream) {
	defer st.Close()

	rec, err := s.localRecord(st.Conn())
	if err != nil {
		log.Warn("构造 identify 记录失败", "err", err)
		_ = st.Reset()
		return
	}
	_ = st.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	if err := wire.WriteFrame(st, rec.marshal()); err != nil {
		log.Debug("写出 identify 记录失败", "peer", st.Conn().RemotePeer().ShortString(), "err", err)
		_ = st.Reset()
	}
}

func (s *Service) localRecord(c pkgif.Conn) (*record, error) {
	pub, err := crypto.MarshalPublicKey(s.host.PrivateKey().GetPublic())
	if err != nil {
		return nil, err
	}
	return &record{
		pubKey: pub,
		info: pkgif.IdentifyInfo{
			ProtocolVersion: s.cfg.ProtocolVersion,
			AgentVersion:    s.cfg.AgentVersion,
			DisplayName:     s.cfg.DisplayName,
			ListenAddrs:     s.host.Addrs(),
			ObservedAddr:    c.RemoteMultiaddr(),
			Protocols:       s.host.Protocols(),
		},
	}, nil
}

// Info 最近一次 identify 的结果
func (s *Service) Info(p types.PeerID) (pkgif.IdentifyInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.infos[p]
	return info, ok
}

// Identify 对节点执行 identify
func (s *Service) Identify(ctx context.Context, p types.PeerID) (pkgif.IdentifyInfo, error) {
	conns := s.host.ConnsToPeer(p)
	if len(conns) == 0 {
		if err := s.host.Connect(ctx, pkgif.AddrInfo{ID: p}); err != nil {
			return pkgif.IdentifyInfo{}, err
		}
		if conns = s.host.ConnsToPeer(p); len(conns) == 0 {
			return pkgif.IdentifyInfo{}, fmt.Errorf("no connection to %s", p.ShortString())
		}
	}
	return s.identifyConn(ctx, conns[0])
}

// identifyConn 在指定连接上执行 identify，同一连接的并发请求合并
func (s *Service) identifyConn(ctx context.Context, c pkgif.Conn) (pkgif.IdentifyInfo, error) {
	v, err, _ := s.inflight.Do(c.ID(), func() (any, error) {
		return s.doIdentify(ctx, c)
	})
	if err != nil {
		return pkgif.IdentifyInfo{}, err
	}
	return v.(pkgif.IdentifyInfo), nil
}

func (s *Service) doIdentify(ctx context.Context, c pkgif.Conn) (pkgif.IdentifyInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	st, err := c.NewStream(ctx, ProtocolID)
	if err != nil {
		return pkgif.IdentifyInfo{}, err
	}
	defer st.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetReadDeadline(dl)
	}

	data, err := wire.ReadFrame(st, maxMessageSize)
	if err != nil {
		return pkgif.IdentifyInfo{}, err
	}
	rec, err := unmarshalRecord(data)
	if err != nil {
		return pkgif.IdentifyInfo{}, err
	}

	p := c.RemotePeer()
	key, err := rec.publicKey()
	if err != nil {
		return pkgif.IdentifyInfo{}, err
	}
	if crypto.VerifyPeerID(key, p) != nil {
		return pkgif.IdentifyInfo{}, ErrKeyMismatch
	}

	info := rec.info
	if !usableObservation(c, info.ObservedAddr) {
		info.ObservedAddr = multiaddr.Multiaddr{}
	}

	s.host.Peerstore().AddAddrs(p, info.ListenAddrs, pkgif.RecentlyConnTTL)

	s.mu.Lock()
	s.infos[p] = info
	s.mu.Unlock()

	log.Debug("identify 完成", "peer", p.ShortString(), "agent", info.AgentVersion, "name", info.DisplayName)
	_ = s.emitter.Emit(pkgif.EvtIdentifyCompleted{Peer: p, Info: info})
	return info, nil
}

// usableObservation 观测地址能否作为本机对外地址
//
// 中继连接上的观测是中继看到的地址；本机主动拨出的 TCP 连接使用临时端口。
// QUIC 拨号复用监听 socket，两个方向的观测都有效。
func usableObservation(c pkgif.Conn, observed multiaddr.Multiaddr) bool {
	if observed.IsEmpty() || c.Relayed() || observed.IsRelayed() {
		return false
	}
	return c.Direction() == pkgif.DirInbound || observed.IsQUIC()
}
