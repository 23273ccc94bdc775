// Package retoro 去中心化消息节点
//
// 节点在局域网内通过 mDNS 发现对端，启动时拨号静态引导列表，加入以名称
// 区分的发布订阅频道，并在 gossip 覆盖网络上交换带签名与时间戳的文本消息。
// 受 NAT 限制的节点借助中继建立连接，随后尝试打洞升级为直连。
//
// 节点运行时是单个协调循环：一侧是有界的命令队列（任意多个生产者，
// 单一消费者），另一侧是多播事件总线（每个订阅者独立的环形缓冲区，
// 落后时丢弃最旧事件并报告丢弃数）。
//
// # 快速开始
//
//	node, err := retoro.New(
//	    retoro.WithName("alice"),
//	    retoro.WithListenAddrs("/ip4/0.0.0.0/tcp/5511"),
//	)
//	if err != nil {
//	    return err
//	}
//	events := node.Events()
//	cmds := node.Commands()
//
//	go node.Run(ctx)
//
//	_ = cmds.Send(ctx, retoro.SendMessage{
//	    Content: "hello",
//	    Target:  retoro.ChannelTarget{Name: retoro.MainChannel},
//	})
//	for {
//	    ev, err := events.Recv(ctx)
//	    ...
//	}
//
// # 已知限制
//
// Ping、JoinChannel、LeaveChannel、AddFriend、RemoveFriend 与定向发送
// 尚未实现，处理时发布包装 ErrUnsupported 的 ErrorEvent。频道密码只保存
// 不校验；完成握手的任何节点都会被接受。引导拨号只尝试一次，不重试。
package retoro
