package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/sandbox"
)

func testTask(identity string) *domain.Task {
	return &domain.Task{
		ID:       domain.NewID(),
		Identity: identity,
		Category: domain.CategoryBugFix,
	}
}

func TestAssemble_NoExecution(t *testing.T) {
	task := testTask("alice")
	res := Assemble(task, "here is what I found", nil)

	if res.TaskID != task.ID || res.Identity != "alice" || res.Category != domain.CategoryBugFix {
		t.Errorf("result header = %+v", res)
	}
	if res.Execution != nil {
		t.Errorf("execution should be nil, got %+v", res.Execution)
	}
	if res.Failed() {
		t.Errorf("prose-only result must not fail: %+v", res.Error)
	}
}

func TestAssemble_StatusToErrorMapping(t *testing.T) {
	tests := []struct {
		status   domain.ExecStatus
		wantCode domain.ErrorCode // "" = no error
	}{
		{domain.ExecSuccess, ""},
		{domain.ExecNonZeroExit, ""},
		{domain.ExecOutputTruncated, ""},
		{domain.ExecTimeout, domain.ErrCodeTimeout},
		{domain.ExecMemoryExceeded, domain.ErrCodeMemoryExceeded},
		{domain.ExecSandboxError, domain.ErrCodeSandbox},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			res := Assemble(testTask("alice"), "n", &sandbox.ExecutionResult{
				Status:   tt.status,
				Stdout:   "out",
				ExitCode: 1,
				Duration: time.Second,
			})
			if res.Execution == nil {
				t.Fatal("execution outcome missing")
			}
			if res.Execution.Status != tt.status {
				t.Errorf("status = %q, want %q", res.Execution.Status, tt.status)
			}
			if tt.wantCode == "" {
				if res.Error != nil {
					t.Errorf("unexpected error %+v", res.Error)
				}
				return
			}
			if res.Error == nil {
				t.Fatalf("want error code %q, got none", tt.wantCode)
			}
			if res.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", res.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestAssemble_ErrorMessagesAreSanitized(t *testing.T) {
	for _, status := range []domain.ExecStatus{
		domain.ExecTimeout, domain.ExecMemoryExceeded, domain.ExecSandboxError,
	} {
		res := Assemble(testTask("alice"), "", &sandbox.ExecutionResult{Status: status})
		msg := res.Error.Message
		if strings.Contains(msg, "/") || strings.Contains(msg, "goroutine") {
			t.Errorf("%s: message leaks internals: %q", status, msg)
		}
	}
}

func TestDeniedInfo_RoundsUpToAtLeastOneSecond(t *testing.T) {
	info := deniedInfo(200 * time.Millisecond)
	if info.RetryAfter != 200*time.Millisecond {
		t.Errorf("retry after = %v", info.RetryAfter)
	}
	if !strings.Contains(info.Message, "1s") {
		t.Errorf("message should name a whole second: %q", info.Message)
	}
}
