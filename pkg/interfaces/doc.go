// Package interfaces 定义 retoro 组件之间的契约
//
// 网络能力按职责拆分为独立接口（Discovery、PubSub、ConnectivityUpgrade、
// PeerInfo、Liveness），由 Capabilities 组合成固定的分发表交给节点运行时。
// 传输层契约（Transport、CapableConn、SecureTransport、Multiplexer）和
// Host、EventBus 也在此定义，各实现位于 internal/core 下。
package interfaces
