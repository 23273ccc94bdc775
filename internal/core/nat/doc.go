// Package nat 为监听端口建立路由器端口映射并探测公网地址
//
// 端口映射依次尝试 UPnP（IGDv2、IGDv1）与 NAT-PMP；公网 IP 也可以通过
// STUN Binding 请求得到。得到的外部地址作为观测地址交给 Host 通告。
package nat
