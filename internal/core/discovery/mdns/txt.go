package mdns

import (
	"errors"
	"strings"

	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// maxTXTLen 单条 TXT 记录上限（RFC 1035）
const maxTXTLen = 255

const (
	idKey    = "id="
	addrsKey = "addrs="
)

var errNoPeerID = errors.New("mdns: entry without peer id")

// buildTXT 构建 TXT 记录
//
// 始终包含 id=<peer>；地址以多条 addrs= 分片发布，解析时聚合。
func buildTXT(id types.PeerID, addrs []multiaddr.Multiaddr) []string {
	txt := []string{idKey + id.String()}

	cur := addrsKey
	flush := func() {
		if cur != addrsKey {
			txt = append(txt, cur)
		}
		cur = addrsKey
	}
	for _, a := range addrs {
		s := a.String()
		if len(addrsKey)+len(s) > maxTXTLen {
			continue
		}
		sep := ""
		if cur != addrsKey {
			sep = ","
		}
		if len(cur)+len(sep)+len(s) > maxTXTLen {
			flush()
			sep = ""
		}
		cur += sep + s
	}
	flush()
	return txt
}

// parseTXT 解析 TXT 记录，忽略无法解析的地址
func parseTXT(fields []string) (types.PeerID, []multiaddr.Multiaddr, error) {
	var (
		id    types.PeerID
		addrs []multiaddr.Multiaddr
	)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, idKey):
			p, err := types.ParsePeerID(strings.TrimPrefix(f, idKey))
			if err != nil {
				return types.EmptyPeerID, nil, err
			}
			id = p
		case strings.HasPrefix(f, addrsKey):
			for _, s := range strings.Split(strings.TrimPrefix(f, addrsKey), ",") {
				a, err := multiaddr.Parse(s)
				if err != nil || a.IsRelayed() {
					continue
				}
				a, _, _ = a.SplitPeer()
				addrs = append(addrs, a)
			}
		}
	}
	if id.IsEmpty() {
		return types.EmptyPeerID, nil, errNoPeerID
	}
	return id, multiaddr.Unique(addrs), nil
}
