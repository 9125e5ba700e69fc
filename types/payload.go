// types/payload.go
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// form_fill 载荷
type FormFillPayload struct {
	Fields map[string]string `json:"fields"`
	Submit bool              `json:"submit"`
}

func (p *FormFillPayload) Validate() error {
	if len(p.Fields) == 0 {
		return errors.New("form_fill requires at least one field")
	}
	return nil
}

// extract 载荷，Static 为 true 时走静态抓取不启动浏览器
type ExtractPayload struct {
	Selectors []string `json:"selectors"`
	Static    bool     `json:"static"`
}

func (p *ExtractPayload) Validate() error {
	if len(p.Selectors) == 0 {
		return errors.New("extract requires at least one selector")
	}
	return nil
}

// click 载荷，WaitBetween 为两次点击间隔（"1s" 这类时长字符串）
type ClickPayload struct {
	Selectors   []string `json:"selectors"`
	WaitBetween string   `json:"wait_between,omitempty"`
}

const defaultClickWait = time.Second

func (p *ClickPayload) Validate() error {
	if len(p.Selectors) == 0 {
		return errors.New("click requires at least one selector")
	}
	if p.WaitBetween != "" {
		if _, err := time.ParseDuration(p.WaitBetween); err != nil {
			return fmt.Errorf("invalid wait_between: %w", err)
		}
	}
	return nil
}

func (p *ClickPayload) Wait() time.Duration {
	if p.WaitBetween == "" {
		return defaultClickWait
	}
	d, err := time.ParseDuration(p.WaitBetween)
	if err != nil {
		return defaultClickWait
	}
	return d
}

// upload 载荷，FileSelector 缺省匹配第一个文件输入框
type UploadPayload struct {
	FileSelector string   `json:"file_selector,omitempty"`
	Files        []string `json:"files"`
}

const DefaultFileSelector = `input[type="file"]`

func (p *UploadPayload) Validate() error {
	if len(p.Files) == 0 {
		return errors.New("upload requires at least one file")
	}
	return nil
}

func (p *UploadPayload) Selector() string {
	if p.FileSelector == "" {
		return DefaultFileSelector
	}
	return p.FileSelector
}

// 按任务类型解码载荷并校验
func (t *Task) DecodedPayload() (any, error) {
	switch t.Type {
	case TypeFormFill:
		var p FormFillPayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, err
		}
		return &p, p.Validate()
	case TypeExtract:
		var p ExtractPayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, err
		}
		return &p, p.Validate()
	case TypeClick:
		var p ClickPayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, err
		}
		return &p, p.Validate()
	case TypeUpload:
		var p UploadPayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, err
		}
		return &p, p.Validate()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, t.Type)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("task_data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode task_data: %w", err)
	}
	return nil
}
