package gossipsub

import (
	"errors"
	"time"
)

// envelopeReserve 消息信封（来源、序号、公钥、签名、主题、时间戳）预留的字节数
const envelopeReserve = 64 << 10

// ============================================================================
//                              GossipSub 配置
// ============================================================================

// Config GossipSub 配置
type Config struct {
	// D 目标 mesh 大小
	D int

	// Dlo 低于此值时 GRAFT
	Dlo int

	// Dhi 超过此值时 PRUNE
	Dhi int

	// Dlazy 每次心跳发送 IHAVE 的节点数
	Dlazy int

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval time.Duration

	// HeartbeatInitialDelay 首次心跳延迟
	HeartbeatInitialDelay time.Duration

	// HistoryLength 消息缓存窗口数（心跳周期）
	HistoryLength int

	// HistoryGossip IHAVE 覆盖的窗口数
	HistoryGossip int

	// SeenTTL 已见消息去重时间
	SeenTTL time.Duration

	// SeenCapacity 已见消息缓存容量
	SeenCapacity int

	// MessageIDBucket 消息 ID 中时间戳的截断粒度
	MessageIDBucket time.Duration

	// PruneBackoff PRUNE 后不得重新 GRAFT 的时间
	PruneBackoff time.Duration

	// FloodPublish 本机发布时发送给所有订阅了主题的节点
	FloodPublish bool

	// MaxMessageSize 单条消息负载上限
	MaxMessageSize int

	// MaxRPCSize RPC 帧上限，须能容纳一条满负载消息及其信封
	MaxRPCSize int

	// MaxIHaveLength 单个 IHAVE 的最大消息 ID 数
	MaxIHaveLength int

	// PeerQueueSize 每个节点的发送队列长度，满时丢弃
	PeerQueueSize int

	// StreamTimeout 打开出站流的超时
	StreamTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		D:                     6,
		Dlo:                   4,
		Dhi:                   12,
		Dlazy:                 6,
		HeartbeatInterval:     10 * time.Second,
		HeartbeatInitialDelay: 100 * time.Millisecond,
		HistoryLength:         5,
		HistoryGossip:         3,
		SeenTTL:               2 * time.Minute,
		SeenCapacity:          100_000,
		MessageIDBucket:       time.Second,
		PruneBackoff:          time.Minute,
		FloodPublish:          true,
		MaxMessageSize:        1 << 20,
		MaxRPCSize:            1<<20 + envelopeReserve,
		MaxIHaveLength:        5000,
		PeerQueueSize:         64,
		StreamTimeout:         10 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.D <= 0 || c.Dlo <= 0 || c.Dhi <= 0:
		return errors.New("gossipsub: mesh degrees must be positive")
	case c.Dlo > c.D || c.D > c.Dhi:
		return errors.New("gossipsub: require Dlo <= D <= Dhi")
	case c.HeartbeatInterval <= 0:
		return errors.New("gossipsub: heartbeat interval must be positive")
	case c.HistoryGossip <= 0 || c.HistoryGossip > c.HistoryLength:
		return errors.New("gossipsub: require 0 < HistoryGossip <= HistoryLength")
	case c.SeenTTL <= 0 || c.SeenCapacity <= 0:
		return errors.New("gossipsub: seen cache must have a ttl and capacity")
	case c.MessageIDBucket <= 0:
		return errors.New("gossipsub: message id bucket must be positive")
	case c.MaxMessageSize <= 0 || c.PeerQueueSize <= 0:
		return errors.New("gossipsub: message size and peer queue must be positive")
	case c.MaxRPCSize < c.MaxMessageSize+envelopeReserve:
		return errors.New("gossipsub: rpc size must exceed message size by the envelope reserve")
	}
	return nil
}
