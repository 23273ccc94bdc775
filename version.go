package retoro

// Version 版本号
const Version = "0.1.0"

// ProtocolVersion identify 协议中通告的协议版本
const ProtocolVersion = "/retoro/0.0.1"

// AgentVersion identify 协议中通告的代理名称
func AgentVersion() string {
	return "go-retoro/" + Version
}
