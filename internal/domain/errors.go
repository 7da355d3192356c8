package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/NjCayao/safetySystem-sub000/internal/schema"
)

// 错误分类：校验失败、对象不存在、类型不兼容、状态机误用
// 校验/兼容性失败在单设备路径上直接返回，在批量路径上折叠为 per-device Outcome

// ValidationError 一个或多个字段违反校验规则；整个文档被拒绝，不写账本
type ValidationError struct {
	Fields []schema.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NotFoundError 设备/模板/历史记录不存在
type NotFoundError struct {
	Kind string // "device" / "profile" / "history"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IncompatibleTypeError 模板与设备类型不匹配且未使用 force
type IncompatibleTypeError struct {
	ProfileType string
	DeviceType  string
}

func (e *IncompatibleTypeError) Error() string {
	return fmt.Sprintf("profile is for device type %q, device is %q (use force to override)", e.ProfileType, e.DeviceType)
}

// StateError 对状态不符的账本记录执行 retry/rollback/ack（逻辑错误，不是环境故障）
type StateError struct {
	HistoryID int64
	Status    ApplicationStatus
	Op        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s history record %d in status %q", e.Op, e.HistoryID, e.Status)
}

// IsNotFound 判断是否对象不存在类错误
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
