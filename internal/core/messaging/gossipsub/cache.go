package gossipsub

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ============================================================================
//                              消息缓存
// ============================================================================

// messageCache 按心跳窗口滑动的消息历史
//
// 只在 Router.mu 下访问。windows[0] 为当前窗口。
type messageCache struct {
	msgs    map[string]*Message
	windows [][]cacheEntry
	gossip  int
}

type cacheEntry struct {
	id    string
	topic string
}

func newMessageCache(history, gossip int) *messageCache {
	return &messageCache{
		msgs:    make(map[string]*Message),
		windows: make([][]cacheEntry, history),
		gossip:  gossip,
	}
}

// put 加入当前窗口
func (mc *messageCache) put(id string, m *Message) {
	if _, ok := mc.msgs[id]; ok {
		return
	}
	mc.msgs[id] = m
	mc.windows[0] = append(mc.windows[0], cacheEntry{id: id, topic: m.Topic})
}

// get 按 ID 查找，供 IWANT 使用
func (mc *messageCache) get(id string) (*Message, bool) {
	m, ok := mc.msgs[id]
	return m, ok
}

// gossipIDs 最近 gossip 个窗口内该主题的消息 ID
func (mc *messageCache) gossipIDs(topic string) []string {
	var ids []string
	for _, w := range mc.windows[:mc.gossip] {
		for _, e := range w {
			if e.topic == topic {
				ids = append(ids, e.id)
			}
		}
	}
	return ids
}

// shift 心跳时滑动窗口，丢弃最旧的窗口
func (mc *messageCache) shift() {
	last := mc.windows[len(mc.windows)-1]
	for _, e := range last {
		delete(mc.msgs, e.id)
	}
	copy(mc.windows[1:], mc.windows[:len(mc.windows)-1])
	mc.windows[0] = nil
}

// ============================================================================
//                              已见缓存
// ============================================================================

// seenCache 去重缓存
type seenCache struct {
	lru *expirable.LRU[string, struct{}]
}

func newSeenCache(capacity int, ttl time.Duration) *seenCache {
	return &seenCache{lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// add 首次加入返回 true
func (s *seenCache) add(id string) bool {
	if s.lru.Contains(id) {
		return false
	}
	s.lru.Add(id, struct{}{})
	return true
}

func (s *seenCache) has(id string) bool {
	return s.lru.Contains(id)
}
