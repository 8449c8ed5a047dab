package task

import (
	"context"

	"Rivalz-Swarm/internal/pipeline"
)

// RecoveryHandler 定义了构建任务不可重试地失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回的结果将作为降级结果写入任务；返回 nil 时按失败流程处理。
	Recover(ctx context.Context, req pipeline.Request, cause error) (*pipeline.Result, error)
}
