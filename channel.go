package retoro

import (
	"slices"

	"github.com/retoro/go-retoro/pkg/types"
)

// MainChannel 启动时自动加入的默认频道
const MainChannel = "main"

// DefaultRecentMessages 每个频道保留的最近消息数
const DefaultRecentMessages = 128

// NodeRepr 记住的节点
type NodeRepr struct {
	Name   string
	PeerID types.PeerID
}

// Channel 频道，与同名的 gossip 主题一一对应
//
// Password 只保存不校验。Messages 是最近消息的有界窗口，不持久化。
type Channel struct {
	Name     string
	Password *string
	Members  []NodeRepr
	Messages []Message
}

// channelState 运行时内部的频道状态，只在协调循环中修改
type channelState struct {
	name     string
	password *string
	members  []NodeRepr
	recent   []Message
	limit    int
}

func newChannelState(name string, limit int) *channelState {
	return &channelState{name: name, limit: limit}
}

// append 追加消息，超出窗口时丢弃最旧的
func (c *channelState) append(m Message) {
	if c.limit <= 0 {
		return
	}
	if len(c.recent) == c.limit {
		copy(c.recent, c.recent[1:])
		c.recent = c.recent[:c.limit-1]
	}
	c.recent = append(c.recent, m)
}

// remember 记录成员，已存在时更新名称
func (c *channelState) remember(r NodeRepr) {
	i := slices.IndexFunc(c.members, func(m NodeRepr) bool { return m.PeerID == r.PeerID })
	if i >= 0 {
		c.members[i].Name = r.Name
		return
	}
	c.members = append(c.members, r)
}

// snapshot 生成不共享底层数组的副本
func (c *channelState) snapshot() Channel {
	out := Channel{
		Name:     c.name,
		Members:  slices.Clone(c.members),
		Messages: slices.Clone(c.recent),
	}
	if c.password != nil {
		p := *c.password
		out.Password = &p
	}
	return out
}
