package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFxError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FxError
		want string
	}{
		{
			name: "without cause",
			err:  NewUserError("envstore", NameDotEnvNotExist, "env file missing"),
			want: "[envstore.DotEnvFileNotExistError] env file missing",
		},
		{
			name: "with cause",
			err:  NewSystemError("lock", NameUnhandled, "lock failed").WithCause(errors.New("disk full")),
			want: "[lock.UnhandledError] lock failed: disk full",
		},
		{
			name: "without source",
			err:  NewUserError("", NameInvalidInput, "bad"),
			want: "[unknown.InvalidInputError] bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFxError_Classification(t *testing.T) {
	userErr := fmt.Errorf("wrapped: %w", NewConcurrentError())
	sysErr := NewReadFileError("envstore", "/tmp/x", errors.New("EIO"))

	if !IsUserError(userErr) || IsSystemError(userErr) {
		t.Error("concurrent error should be a user error through wrapping")
	}
	if !IsSystemError(sysErr) || IsUserError(sysErr) {
		t.Error("read file error should be a system error")
	}
	if !HasName(userErr, NameConcurrent) {
		t.Error("HasName should see through wrapping")
	}
	if !errors.Is(userErr, &FxError{Class: ClassUser, Name: NameConcurrent}) {
		t.Error("errors.Is should match on class and name")
	}
	if IsUserError(errors.New("plain")) {
		t.Error("plain errors are not classified")
	}
}

func TestIsCancel(t *testing.T) {
	if !IsCancel(NewUserCancelError()) {
		t.Error("UserCancelError should be a cancel")
	}
	if !IsCancel(fmt.Errorf("x: %w", context.Canceled)) {
		t.Error("context.Canceled should be a cancel")
	}
	if IsCancel(errors.New("other")) {
		t.Error("other errors are not cancels")
	}
}

func TestNormalize(t *testing.T) {
	defaults := Defaults{Source: "deploy", HelpLink: "https://help", IssueLink: "https://issues"}

	t.Run("nil", func(t *testing.T) {
		if Normalize(nil, defaults) != nil {
			t.Error("nil error should normalize to nil")
		}
	})

	t.Run("preserves explicit fields", func(t *testing.T) {
		in := NewUserError("custom", NameInvalidInput, "bad").WithHelpLink("https://custom-help")
		out := Normalize(in, defaults)
		if out.Source != "custom" || out.HelpLink != "https://custom-help" {
			t.Errorf("explicit fields overwritten: %+v", out)
		}
		if out.IssueLink != "" {
			t.Error("user errors should not get an issue link")
		}
	})

	t.Run("fills unknown source", func(t *testing.T) {
		in := NewUserError(UnknownSource, NameInvalidInput, "bad")
		out := Normalize(in, defaults)
		if out.Source != "deploy" || out.HelpLink != "https://help" {
			t.Errorf("defaults not applied: %+v", out)
		}
	})

	t.Run("system error gets issue link", func(t *testing.T) {
		out := Normalize(NewSystemError("", NameReadFile, "io"), defaults)
		if out.IssueLink != "https://issues" || out.HelpLink != "" {
			t.Errorf("unexpected links: %+v", out)
		}
	})

	t.Run("bare error becomes unhandled system error", func(t *testing.T) {
		cause := errors.New("kaboom")
		out := Normalize(cause, defaults)
		if out.Class != ClassSystem || out.Name != NameUnhandled {
			t.Errorf("unexpected classification: %+v", out)
		}
		if out.Source != "deploy" || out.IssueLink != "https://issues" {
			t.Errorf("defaults not applied: %+v", out)
		}
		if !errors.Is(out, cause) {
			t.Error("cause should stay in the chain")
		}
	})

	t.Run("context cancel becomes user cancel", func(t *testing.T) {
		out := Normalize(context.Canceled, defaults)
		if out.Name != NameUserCancel || out.Class != ClassUser {
			t.Errorf("unexpected: %+v", out)
		}
	})
}
