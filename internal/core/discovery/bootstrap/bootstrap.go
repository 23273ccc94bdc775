// Package bootstrap 对静态引导地址做一次性拨号
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

var log = logger.Logger("discovery.bootstrap")

// Config 引导配置
type Config struct {
	// MaxConcurrent 并发拨号数
	MaxConcurrent int

	// DialTimeout 单个地址的拨号超时，0 表示使用传输层默认值
	DialTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{MaxConcurrent: 8}
}

// DialError 单个引导地址的拨号失败
type DialError struct {
	Addr multiaddr.Multiaddr
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("bootstrap %s: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Dial 并发拨号每个地址一次，不重试
//
// 地址可以带 /p2p/<id> 后缀；没有后缀时对端身份由握手得知。
// 返回的错误按输入顺序排列，成功的地址不出现在结果中。
func Dial(ctx context.Context, h pkgif.Host, addrs []multiaddr.Multiaddr, cfg Config) []error {
	if len(addrs) == 0 {
		return nil
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}

	errs := make([]error, len(addrs))
	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrent)
	for i, a := range addrs {
		g.Go(func() error {
			dctx := ctx
			if cfg.DialTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
				defer cancel()
			}
			p, err := h.DialAddr(dctx, a)
			if err != nil {
				log.Warn("引导节点拨号失败", "addr", a, "err", err)
				errs[i] = &DialError{Addr: a, Err: err}
				return nil
			}
			log.Info("已连接引导节点", "peer", p.ShortString(), "addr", a)
			return nil
		})
	}
	_ = g.Wait()

	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
