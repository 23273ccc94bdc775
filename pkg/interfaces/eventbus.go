package interfaces

// EventBus 类型化事件总线，组件之间传递网络事件
type EventBus interface {
	// Subscribe 订阅事件类型，eventType 为指针，如 new(EvtPeerConnected)
	Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error)

	// Emitter 获取事件类型的发射器
	Emitter(eventType interface{}, opts ...EmitterOpt) (Emitter, error)
}

// Subscription 事件订阅
type Subscription interface {
	Out() <-chan interface{}
	Close() error
}

// Emitter 事件发射器
type Emitter interface {
	Emit(event interface{}) error
	Close() error
}

// SubscriptionOpt 订阅选项
type SubscriptionOpt func(*SubscriptionSettings)

// EmitterOpt 发射器选项
type EmitterOpt func(*EmitterSettings)

// SubscriptionSettings 订阅设置
type SubscriptionSettings struct {
	Buffer int

	// Lossless 缓冲区满时发射方阻塞等待，而不是丢弃
	Lossless bool
}

// EmitterSettings 发射器设置
type EmitterSettings struct {
	Stateful bool
}

// BufSize 设置订阅缓冲区大小
func BufSize(size int) SubscriptionOpt {
	return func(s *SubscriptionSettings) {
		s.Buffer = size
	}
}

// Lossless 订阅不丢事件
func Lossless() SubscriptionOpt {
	return func(s *SubscriptionSettings) {
		s.Lossless = true
	}
}

// Stateful 发射器保留最后一个事件，新订阅者立即收到
func Stateful() EmitterOpt {
	return func(s *EmitterSettings) {
		s.Stateful = true
	}
}
