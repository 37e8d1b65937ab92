package audit

import (
	"sync"
	"time"
)

// AuditEvent 描述一次审批状态变化，发布后不可变
type AuditEvent struct {
	AuditID      uint
	WorkflowID   uint
	WorkflowType WorkflowType
	Title        string
	GroupName    string
	Action       WorkflowAction
	Status       WorkflowStatus
	Operator     string
	AutoPassed   bool
	Remark       string
	OccurredAt   time.Time
}

// EventBusConfig 控制事件总线行为
type EventBusConfig struct {
	BufferSize int
}

// EventBus 进程内审批事件总线，按 audit_id 订阅
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint]map[uint64]chan AuditEvent
	seq    uint64
	buffer int
}

// NewEventBus 创建事件总线
func NewEventBus(cfg *EventBusConfig) *EventBus {
	buffer := 1
	if cfg != nil && cfg.BufferSize > 0 {
		buffer = cfg.BufferSize
	}
	return &EventBus{
		subs:   make(map[uint]map[uint64]chan AuditEvent),
		buffer: buffer,
	}
}

// Publish 发布事件
func (b *EventBus) Publish(evt AuditEvent) {
	if b == nil {
		return
	}
	// 发送期间持有读锁，避免 removeListener 并发改写订阅表或关闭通道；
	// 发送本身非阻塞，锁不会被长期占用
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.AuditID] {
		select {
		case ch <- evt:
		default:
			// 接收方处理慢则丢弃，发布永不阻塞
		}
	}
}

// Subscribe 订阅指定审批流的事件
func (b *EventBus) Subscribe(auditID uint) (<-chan AuditEvent, func()) {
	if b == nil {
		return nil, nil
	}
	ch := make(chan AuditEvent, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[auditID]; !ok {
		b.subs[auditID] = make(map[uint64]chan AuditEvent)
	}
	b.subs[auditID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.removeListener(auditID, id)
	}
	return ch, cancel
}

func (b *EventBus) removeListener(auditID uint, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[auditID]; ok {
		if ch, exists := listeners[id]; exists {
			delete(listeners, id)
			close(ch)
		}
		if len(listeners) == 0 {
			delete(b.subs, auditID)
		}
	}
}
