package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Bus 事件总线，包装 asaskevich/EventBus 并跟踪异步订阅
type Bus struct {
	bus evbus.Bus
}

// New 创建新的事件总线
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Publish 发布事件；同步订阅者在调用方协程内执行
func (b *Bus) Publish(topic string, args ...interface{}) {
	if b == nil {
		return
	}
	b.bus.Publish(topic, args...)
}

// Subscribe 订阅同步事件
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// SubscribeAsync 订阅异步事件，同一订阅者的回调按发布顺序串行执行
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, true)
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// HasSubscribers reports whether topic has any callback attached.
func (b *Bus) HasSubscribers(topic string) bool {
	return b.bus.HasCallback(topic)
}

// WaitAsync 等待所有异步回调执行完毕
func (b *Bus) WaitAsync() {
	if b == nil {
		return
	}
	b.bus.WaitAsync()
}
