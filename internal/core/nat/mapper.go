package nat

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// mappingDescription 路由器上显示的映射描述
const mappingDescription = "go-retoro"

// portMapper 路由器端口映射
type portMapper interface {
	Name() string
	ExternalIP(ctx context.Context) (netip.Addr, error)
	// AddMapping 返回实际分配的外部端口
	AddMapping(ctx context.Context, proto string, internal int, lifetime time.Duration) (int, error)
	DeleteMapping(ctx context.Context, proto string, internal, external int) error
}

// discoverMapper 依次尝试 UPnP IGDv2、IGDv1 与 NAT-PMP
func discoverMapper(ctx context.Context) (portMapper, error) {
	if m, err := discoverUPnP(ctx); err == nil {
		return m, nil
	} else {
		log.Debug("UPnP 网关不可用", "err", err)
	}
	if m, err := discoverNATPMP(ctx); err == nil {
		return m, nil
	} else {
		log.Debug("NAT-PMP 网关不可用", "err", err)
	}
	return nil, ErrNoGateway
}

// ============================================================================
//                              UPnP
// ============================================================================

// igdClient IGDv1 与 IGDv2 的 WANIPConnection 共有的方法
type igdClient interface {
	GetExternalIPAddressCtx(ctx context.Context) (string, error)
	AddPortMappingCtx(ctx context.Context, remoteHost string, externalPort uint16, protocol string,
		internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error
	DeletePortMappingCtx(ctx context.Context, remoteHost string, externalPort uint16, protocol string) error
}

type upnpMapper struct {
	name     string
	client   igdClient
	internal string
}

func discoverUPnP(ctx context.Context) (*upnpMapper, error) {
	if cs, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx); err == nil && len(cs) > 0 {
		return newUPnPMapper("upnp-igd2", cs[0], cs[0].Location.Host)
	}
	cs, _, err := internetgateway1.NewWANIPConnection1ClientsCtx(ctx)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, ErrNoGateway
	}
	return newUPnPMapper("upnp-igd1", cs[0], cs[0].Location.Host)
}

func newUPnPMapper(name string, c igdClient, gatewayHost string) (*upnpMapper, error) {
	ip, err := localIPToward(gatewayHost)
	if err != nil {
		return nil, err
	}
	return &upnpMapper{name: name, client: c, internal: ip.String()}, nil
}

func (m *upnpMapper) Name() string { return m.name }

func (m *upnpMapper) ExternalIP(ctx context.Context) (netip.Addr, error) {
	s, err := m.client.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.ParseAddr(s)
}

func (m *upnpMapper) AddMapping(ctx context.Context, proto string, internal int, lifetime time.Duration) (int, error) {
	err := m.client.AddPortMappingCtx(ctx, "", uint16(internal), strings.ToUpper(proto),
		uint16(internal), m.internal, true, mappingDescription, uint32(lifetime/time.Second))
	if err != nil {
		return 0, err
	}
	return internal, nil
}

func (m *upnpMapper) DeleteMapping(ctx context.Context, proto string, _, external int) error {
	return m.client.DeletePortMappingCtx(ctx, "", uint16(external), strings.ToUpper(proto))
}

// localIPToward 通往网关时使用的本机地址
func localIPToward(hostport string) (net.IP, error) {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(host, "1"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	ua, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("nat: unexpected local address %v", conn.LocalAddr())
	}
	return ua.IP, nil
}

// ============================================================================
//                              NAT-PMP
// ============================================================================

type natpmpMapper struct {
	client *natpmp.Client
}

func discoverNATPMP(ctx context.Context) (*natpmpMapper, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, err
	}
	timeout := 2 * time.Second
	if d, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(d))
	}
	c := natpmp.NewClientWithTimeout(gw, timeout)
	if _, err := c.GetExternalAddress(); err != nil {
		return nil, err
	}
	return &natpmpMapper{client: c}, nil
}

func (m *natpmpMapper) Name() string { return "nat-pmp" }

func (m *natpmpMapper) ExternalIP(context.Context) (netip.Addr, error) {
	res, err := m.client.GetExternalAddress()
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4(res.ExternalIPAddress), nil
}

func (m *natpmpMapper) AddMapping(_ context.Context, proto string, internal int, lifetime time.Duration) (int, error) {
	res, err := m.client.AddPortMapping(proto, internal, internal, int(lifetime/time.Second))
	if err != nil {
		return 0, err
	}
	return int(res.MappedExternalPort), nil
}

// DeleteMapping 租期为 0 表示删除
func (m *natpmpMapper) DeleteMapping(_ context.Context, proto string, internal, _ int) error {
	_, err := m.client.AddPortMapping(proto, internal, 0, 0)
	return err
}
