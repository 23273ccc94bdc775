package host

import (
	"go.uber.org/multierr"

	"github.com/retoro/go-retoro/internal/core/muxer/yamux"
	"github.com/retoro/go-retoro/internal/core/security/noise"
	"github.com/retoro/go-retoro/internal/core/transport/quic"
	"github.com/retoro/go-retoro/internal/core/transport/tcp"
	"github.com/retoro/go-retoro/internal/core/upgrader"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// NewUpgrader 创建 Noise + yamux 升级器，用于 TCP 与中继电路
func NewUpgrader(id pkgif.Identity, cfg yamux.Config) (pkgif.Upgrader, error) {
	sec, err := noise.New(id)
	if err != nil {
		return nil, err
	}
	mux, err := yamux.New(cfg)
	if err != nil {
		return nil, err
	}
	return upgrader.New(upgrader.Config{
		Security: []pkgif.SecureTransport{sec},
		Muxers:   []pkgif.Multiplexer{mux},
	})
}

// BuildTransports 按配置创建直连传输
//
// TCP 经 Noise 认证、yamux 多路复用；QUIC 自带 TLS 1.3 与流复用。
func BuildTransports(id pkgif.Identity, cfg Config) ([]pkgif.Transport, error) {
	var out []pkgif.Transport

	if cfg.EnableTCP {
		up, err := NewUpgrader(id, cfg.Yamux)
		if err != nil {
			return nil, err
		}
		out = append(out, tcp.New(up, cfg.TCP))
	}

	if cfg.EnableQUIC {
		qt, err := quic.New(id, cfg.QUIC)
		if err != nil {
			var cerr error
			for _, t := range out {
				cerr = multierr.Append(cerr, t.Close())
			}
			return nil, multierr.Append(err, cerr)
		}
		out = append(out, qt)
	}
	return out, nil
}
