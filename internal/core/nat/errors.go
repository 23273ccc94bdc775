package nat

import "errors"

var (
	// ErrNoGateway 没有找到支持端口映射的网关
	ErrNoGateway = errors.New("nat: no port mapping gateway found")

	// ErrNoServers 未配置 STUN 服务器
	ErrNoServers = errors.New("nat: no stun servers")

	// ErrNoMappedAddress STUN 应答中没有映射地址
	ErrNoMappedAddress = errors.New("nat: no mapped address in stun response")
)
