package eventbus

import (
	"context"
	"time"
)

const logTag = "存储"

// Recorder persists one event. storage.FireEventRepository satisfies it.
type Recorder interface {
	Record(ctx context.Context, eventType, intentID, identityID string, payload any) error
}

// Logger is the logging contract used by the audit handler.
type Logger interface {
	WarnTag(tag, msg string, args ...any)
}

// AuditHandler 将开火事件写入审计表
type AuditHandler struct {
	recorder Recorder
	logger   Logger
	timeout  time.Duration
}

// NewAuditHandler 创建审计处理器
func NewAuditHandler(recorder Recorder, logger Logger) *AuditHandler {
	return &AuditHandler{recorder: recorder, logger: logger, timeout: 5 * time.Second}
}

// HandleFire 处理开火终态事件
func (h *AuditHandler) HandleFire(eventType string, data FireEventData) {
	h.record(eventType, data.IntentID, data.IdentityID, data)
}

// HandleRecenter 处理看门狗回中事件
func (h *AuditHandler) HandleRecenter(data RecenterEventData) {
	h.record(EventWatchdogRecenter, "", "", data)
}

func (h *AuditHandler) record(eventType, intentID, identityID string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.recorder.Record(ctx, eventType, intentID, identityID, payload); err != nil && h.logger != nil {
		h.logger.WarnTag(logTag, "审计事件写入失败 %s: %v", eventType, err)
	}
}

// SetupAuditHandlers 订阅全部开火与看门狗事件
func SetupAuditHandlers(bus *Bus, handler *AuditHandler) error {
	for _, topic := range []string{EventGunSettled, EventGunRejected, EventGunFaulted} {
		topic := topic
		if err := bus.SubscribeAsync(topic, func(data FireEventData) {
			handler.HandleFire(topic, data)
		}); err != nil {
			return err
		}
	}
	return bus.SubscribeAsync(EventWatchdogRecenter, handler.HandleRecenter)
}
