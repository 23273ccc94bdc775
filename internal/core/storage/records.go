package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

const (
	nodesPrefix    = "n/"
	channelsPrefix = "c/"
)

// NodeRecord 持久化的已知节点
type NodeRecord struct {
	ID       types.PeerID
	Name     string
	Addrs    []multiaddr.Multiaddr
	LastSeen time.Time
}

// 字段号：1 id, 2 name, 3 addr（重复）, 4 last_seen（unix 毫秒）
func (r NodeRecord) marshal() []byte {
	b := wire.AppendBytes(nil, 1, r.ID.Bytes())
	b = wire.AppendString(b, 2, r.Name)
	for _, a := range r.Addrs {
		b = wire.AppendBytes(b, 3, a.Bytes())
	}
	return wire.AppendSint64(b, 4, r.LastSeen.UnixMilli())
}

func unmarshalNodeRecord(b []byte) (NodeRecord, error) {
	var r NodeRecord
	rd := wire.NewReader(b)
	for rd.Next() {
		switch rd.Field() {
		case 1:
			id, err := types.PeerIDFromBytes(rd.Bytes())
			if err != nil {
				return NodeRecord{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
			}
			r.ID = id
		case 2:
			r.Name = rd.String()
		case 3:
			if a, err := multiaddr.FromBytes(rd.Bytes()); err == nil {
				r.Addrs = append(r.Addrs, a)
			}
		case 4:
			r.LastSeen = time.UnixMilli(rd.Sint64())
		default:
			rd.Skip()
		}
	}
	if err := rd.Err(); err != nil {
		return NodeRecord{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if r.ID.IsEmpty() {
		return NodeRecord{}, ErrCorrupted
	}
	return r, nil
}

// Nodes 已知节点表
type Nodes struct {
	store *Store
}

// NewNodes 创建已知节点表
func NewNodes(db *DB) *Nodes {
	return &Nodes{store: NewStore(db, nodesPrefix)}
}

// Put 写入或覆盖
func (n *Nodes) Put(r NodeRecord) error {
	if r.ID.IsEmpty() {
		return ErrEmptyKey
	}
	return n.store.Put(r.ID.Bytes(), r.marshal())
}

// Get 按 ID 读取
func (n *Nodes) Get(id types.PeerID) (NodeRecord, error) {
	v, err := n.store.Get(id.Bytes())
	if err != nil {
		return NodeRecord{}, err
	}
	return unmarshalNodeRecord(v)
}

// Delete 删除
func (n *Nodes) Delete(id types.PeerID) error {
	return n.store.Delete(id.Bytes())
}

// All 全部记录，最近见到的在前；损坏的记录被跳过
func (n *Nodes) All() ([]NodeRecord, error) {
	var out []NodeRecord
	err := n.store.ForEach(func(_, v []byte) error {
		r, err := unmarshalNodeRecord(v)
		if err != nil {
			log.Warn("跳过损坏的节点记录", "err", err)
			return nil
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b NodeRecord) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	return out, nil
}

// Channels 已加入的频道
type Channels struct {
	store *Store
}

// NewChannels 创建频道表
func NewChannels(db *DB) *Channels {
	return &Channels{store: NewStore(db, channelsPrefix)}
}

// Add 记录频道
func (c *Channels) Add(name string) error {
	return c.store.Put([]byte(name), nil)
}

// Remove 移除频道
func (c *Channels) Remove(name string) error {
	return c.store.Delete([]byte(name))
}

// List 按名称排序返回
func (c *Channels) List() ([]string, error) {
	var out []string
	err := c.store.ForEach(func(k, _ []byte) error {
		out = append(out, string(k))
		return nil
	})
	return out, err
}
