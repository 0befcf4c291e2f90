package socket

import (
	"encoding/json"
)

// Frame 线上帧 {"event": "...", "data": <json>}
type Frame struct {
	// Event 事件名称
	Event string `json:"event"`

	// Data 事件数据
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame 编码出站帧
func EncodeFrame(event string, data json.RawMessage) ([]byte, error) {
	if event == "" {
		return nil, ErrInvalidFrame.WithMessage("socket: empty event name")
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// DecodeFrame 解码入站帧
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, ErrInvalidFrame.WithError(err)
	}
	if f.Event == "" {
		return nil, ErrInvalidFrame.WithMessage("socket: frame without event")
	}
	return &f, nil
}

// marshalPayload 将任意值编码为事件数据，json.RawMessage 与 []byte 原样使用
func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, ErrInvalidFrame.WithMessage("socket: payload is not valid json")
		}
		return p, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, ErrInvalidFrame.WithError(err)
		}
		return b, nil
	}
}
