package trigger

import "encoding/json"

// Event 是触发器产生的不可变数据单元。
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// NewEvent 创建事件。
func NewEvent(name string, payload any) Event {
	return Event{Name: name, Payload: payload}
}

// Projection 返回事件的 JSON 投影，供模板渲染使用。
func (e Event) Projection() (map[string]any, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
