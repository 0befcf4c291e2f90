package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind 跨进程消息类型
type Kind string

const (
	// KindJoin 节点上有连接加入房间
	KindJoin Kind = "join"
	// KindLeave 节点上有连接离开房间
	KindLeave Kind = "leave"
	// KindEmitToRoom 向房间的所有成员投递事件
	KindEmitToRoom Kind = "emit_to_room"
	// KindEmitToConnection 向指定连接投递事件
	KindEmitToConnection Kind = "emit_to_connection"
	// KindSync 请求其他节点重新通告房间成员数，节点订阅建立后发送
	KindSync Kind = "sync"
)

// Valid 检查类型是否有效
func (k Kind) Valid() bool {
	switch k {
	case KindJoin, KindLeave, KindEmitToRoom, KindEmitToConnection, KindSync:
		return true
	}
	return false
}

// Message 跨进程消息
type Message struct {
	// ID 消息唯一标识，用于丢弃重放
	ID string `json:"id"`

	// Kind 消息类型
	Kind Kind `json:"kind"`

	// Room 房间名（join/leave/emit_to_room）
	Room string `json:"room,omitempty"`

	// ConnectionID emit_to_connection 的目标连接；emit_to_room 时为排除的连接
	ConnectionID string `json:"connection_id,omitempty"`

	// Event 事件名（emit_*）
	Event string `json:"event,omitempty"`

	// Payload 事件数据（emit_*）
	Payload json.RawMessage `json:"payload,omitempty"`

	// Members 发布节点在 join/leave 之后该房间的本地成员数
	Members int `json:"members"`

	// Origin 发布节点 ID
	Origin string `json:"origin"`
}

// NewMessage 创建消息并分配 ID
func NewMessage(kind Kind) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Kind: kind,
	}
}

// Validate 校验消息字段
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrInvalidMessage.WithMessage("adapter: message id is required")
	}
	if !m.Kind.Valid() {
		return ErrInvalidMessage.WithMessage(fmt.Sprintf("adapter: unknown message kind %q", m.Kind))
	}
	if m.Origin == "" {
		return ErrInvalidMessage.WithMessage("adapter: message origin is required")
	}

	switch m.Kind {
	case KindJoin, KindLeave:
		if m.Members < 0 {
			return ErrInvalidMessage.WithMessage("adapter: negative member count")
		}
	case KindEmitToRoom:
		if m.Event == "" {
			return ErrInvalidMessage.WithMessage("adapter: emit_to_room requires event")
		}
	case KindEmitToConnection:
		if m.ConnectionID == "" || m.Event == "" {
			return ErrInvalidMessage.WithMessage("adapter: emit_to_connection requires connection_id and event")
		}
	}
	return nil
}

// encode 序列化消息
func encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// decode 反序列化并校验消息
func decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrInvalidMessage.WithError(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
