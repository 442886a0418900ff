package tasks

import (
	"fmt"

	"github.com/deepnoodle-ai/flowvm"
)

// ApprovalTask suspends until the required number of approvals arrived.
// Each resume event carries {"approver": name, "approved": bool}; a
// rejection fails the task.
type ApprovalTask struct{}

func NewApprovalTask() *ApprovalTask {
	return &ApprovalTask{}
}

func (t *ApprovalTask) Name() string {
	return "approval"
}

func (t *ApprovalTask) Execute(ctx flowvm.Context, input map[string]any) (any, error) {
	required := int64(1)
	if v, ok := input["required"].(int64); ok && v > 0 {
		required = v
	}
	ctx.Logger().Info("waiting for approval", "required", required)
	return flowvm.Suspend(eventName(input), map[string]any{
		"required":  required,
		"approvers": []any{},
	}), nil
}

func (t *ApprovalTask) Resume(ctx flowvm.Context, in flowvm.ResumeInput) (any, error) {
	if approved, ok := in.Payload["approved"].(bool); ok && !approved {
		return nil, fmt.Errorf("approval rejected by %v", in.Payload["approver"])
	}
	required, _ := in.State["required"].(int64)
	approvers, _ := in.State["approvers"].([]any)
	approvers = append(approvers, in.Payload["approver"])
	if int64(len(approvers)) < required {
		ctx.Logger().Info("approval received", "approvals", len(approvers), "required", required)
		return flowvm.Suspend(eventName(in.Input), map[string]any{
			"required":  required,
			"approvers": approvers,
		}), nil
	}
	return map[string]any{
		"approved":  true,
		"approvers": approvers,
	}, nil
}

func eventName(input map[string]any) string {
	if name, ok := input["event"].(string); ok && name != "" {
		return name
	}
	return "approval"
}
