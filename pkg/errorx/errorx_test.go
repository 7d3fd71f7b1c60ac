package errorx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, CodeBackendUnavailable, "读取用户失败")

	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause")
	}
	if got := err.Error(); got != "读取用户失败: dial tcp: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
	if !IsBackendUnavailable(fmt.Errorf("outer: %w", err)) {
		t.Fatalf("expected backend unavailable through fmt wrapping")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"invalid state", Newf(CodeInvalidState, "already %s", "friends"), IsInvalidState, true},
		{"validation", ErrInvalidParam, IsValidation, true},
		{"not found", ErrNotFound, IsNotFound, true},
		{"user not exist", New(CodeUserNotExist, "用户不存在"), IsNotFound, true},
		{"conflict", Wrap(ErrConflict, CodeConflict, "unread changed"), IsConflict, true},
		{"conflict is not unavailable", ErrConflict, IsBackendUnavailable, false},
		{"plain error", errors.New("boom"), IsInvalidState, false},
		{"nil", nil, IsValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := Newf(CodeInvalidState, "不能接受自己发出的好友申请")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected code based match")
	}
	if errors.Is(err, ErrInvalidParam) {
		t.Fatalf("different codes must not match")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(errors.New("x")); got != CodeServerBusy {
		t.Fatalf("got %d", got)
	}
	if got := GetCode(ErrInvalidState); got != CodeInvalidState {
		t.Fatalf("got %d", got)
	}
}
