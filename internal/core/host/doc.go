// Package host 实现网络主机
//
// Host 聚合传输、连接表、协议路由与地址簿：
//   - 监听：每个地址交给能处理它的传输，任一失败即返回错误
//   - 拨号：按地址簿中的地址依次尝试，直连优先于中继，单次拨号受 DialTimeout 约束
//   - 协议路由：入站流经 multistream-select 协商后交给注册的处理器
//   - 空闲回收：没有打开的流且未被保护的连接在 IdleTimeout 后关闭
//
// 连接建立、最后一条连接断开与本机地址变化会发布到事件总线。
package host
