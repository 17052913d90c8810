package domain

import "time"

// TransitionOp 引擎状态迁移类型
type TransitionOp string

const (
	OpToggleStandard TransitionOp = "toggle_standard"
	OpSetCustom      TransitionOp = "set_custom"
	OpDisableCustom  TransitionOp = "disable_custom"
)

// TransitionOutcome 迁移结果
type TransitionOutcome string

const (
	OutcomeOK      TransitionOutcome = "ok"
	OutcomeFailed  TransitionOutcome = "failed"
	OutcomePartial TransitionOutcome = "partial" // 旧提醒已停用，新提醒创建失败
)

// TransitionRecord 一次迁移的审计记录
type TransitionRecord struct {
	ID        string            `json:"id"`
	Ticker    string            `json:"ticker"`
	Op        TransitionOp      `json:"op"`
	Kind      AlertKind         `json:"kind"`
	Threshold float64           `json:"threshold"`
	Active    bool              `json:"active"` // 迁移后的本地状态
	Outcome   TransitionOutcome `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}
