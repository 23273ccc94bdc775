// Package eventbus 实现进程内事件传递
//
// 包含两种机制：
//
// Bus 是按类型路由的内部事件总线，组件通过 Emitter 发射网络事件，
// 节点运行时通过 Subscribe 订阅。默认订阅在缓冲区满时丢弃事件并计数；
// 使用 pkgif.Lossless() 的订阅会让发射方阻塞直到投递或订阅关闭。
//
//	bus := eventbus.NewBus()
//	sub, _ := bus.Subscribe(new(pkgif.EvtPeerConnected), pkgif.Lossless())
//	em, _ := bus.Emitter(new(pkgif.EvtPeerConnected))
//	em.Emit(pkgif.EvtPeerConnected{...})
//
// Broadcaster 是面向外部订阅者的广播器：每个订阅者一个固定容量的环形缓冲区，
// 发布从不阻塞，缓冲区满时丢弃最旧的事件，订阅者在下一次 Recv 时收到
// *LaggedError 告知丢弃数量。
package eventbus
