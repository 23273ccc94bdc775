// Package holepunch 把中继连接升级为直连
//
// 协议 /retoro/dcutr/1.0.0，在中继连接上运行：
//
//  1. 接受了中继连接的一方（发起方）发送 CONNECT，携带自身可直连地址，并开始计时
//  2. 对端回复 CONNECT，携带自身地址；发起方据此得到 RTT
//  3. 发起方发送 SYNC，等待 RTT/2 后拨号对端地址
//  4. 对端收到 SYNC 立即拨号发起方地址
//
// 双方几乎同时向对方发包，使 NAT 为对方建立映射。QUIC 复用监听 socket 拨号，
// 效果最好。最多尝试 MaxAttempts 次；成功后中继连接在宽限期后关闭。
package holepunch
