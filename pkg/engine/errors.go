package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass separates failures the end user can act on from unexpected ones.
type ErrorClass string

const (
	// ClassUser indicates an error the user can fix.
	// Examples: missing environment file, cancellation, invalid input, a concurrent operation.
	ClassUser ErrorClass = "user"

	// ClassSystem indicates an unexpected failure.
	// Examples: I/O errors, unhandled driver failures, corrupted secrets.
	ClassSystem ErrorClass = "system"
)

// UnknownSource is the source recorded on errors that were raised without one.
const UnknownSource = "unknown"

// FxError is the normalized error shape returned by every lifecycle action.
type FxError struct {
	// Class is the user/system classification.
	Class ErrorClass `json:"class"`

	// Source identifies the component that raised the error.
	Source string `json:"source"`

	// Name is a stable identifier for programmatic handling.
	Name string `json:"name"`

	// Message is the default (untranslated) error message.
	Message string `json:"message"`

	// DisplayMessage is the message shown to the user, if it differs from Message.
	DisplayMessage string `json:"displayMessage,omitempty"`

	// HelpLink points to documentation for user errors.
	HelpLink string `json:"helpLink,omitempty"`

	// IssueLink points to the issue tracker for system errors.
	IssueLink string `json:"issueLink,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *FxError) Error() string {
	source := e.Source
	if source == "" {
		source = UnknownSource
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s.%s] %s: %s", source, e.Name, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s.%s] %s", source, e.Name, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FxError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two errors are equal when they share class and name.
func (e *FxError) Is(target error) bool {
	t, ok := target.(*FxError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Name == t.Name
}

// UserMessage returns the message to show to a human.
func (e *FxError) UserMessage() string {
	if e.DisplayMessage != "" {
		return e.DisplayMessage
	}
	return e.Message
}

// NewUserError creates a new user error.
func NewUserError(source, name, message string) *FxError {
	return &FxError{
		Class:   ClassUser,
		Source:  source,
		Name:    name,
		Message: message,
	}
}

// NewSystemError creates a new system error.
func NewSystemError(source, name, message string) *FxError {
	return &FxError{
		Class:   ClassSystem,
		Source:  source,
		Name:    name,
		Message: message,
	}
}

// WithCause sets the underlying error.
func (e *FxError) WithCause(err error) *FxError {
	e.Err = err
	return e
}

// WithSource sets the error source.
func (e *FxError) WithSource(source string) *FxError {
	e.Source = source
	return e
}

// WithDisplayMessage sets the user-facing message.
func (e *FxError) WithDisplayMessage(msg string) *FxError {
	e.DisplayMessage = msg
	return e
}

// WithHelpLink sets the help link.
func (e *FxError) WithHelpLink(link string) *FxError {
	e.HelpLink = link
	return e
}

// WithIssueLink sets the issue link.
func (e *FxError) WithIssueLink(link string) *FxError {
	e.IssueLink = link
	return e
}

// WithDetail adds a detail field to the error context.
func (e *FxError) WithDetail(key string, value interface{}) *FxError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsFxError returns the first *FxError in the chain of err.
func AsFxError(err error) (*FxError, bool) {
	var e *FxError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsUserError returns true if the error is classified as a user error.
func IsUserError(err error) bool {
	e, ok := AsFxError(err)
	return ok && e.Class == ClassUser
}

// IsSystemError returns true if the error is classified as a system error.
func IsSystemError(err error) bool {
	e, ok := AsFxError(err)
	return ok && e.Class == ClassSystem
}

// HasName returns true if err carries an *FxError with the given name.
func HasName(err error, name string) bool {
	e, ok := AsFxError(err)
	return ok && e.Name == name
}

// IsCancel returns true if err represents a user cancellation.
func IsCancel(err error) bool {
	if HasName(err, NameUserCancel) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Defaults holds the fallback values applied when normalizing an error.
type Defaults struct {
	Source    string
	HelpLink  string
	IssueLink string
}

// Normalize converts any error into an *FxError.
// Fields already set on an *FxError are preserved; only the unset source,
// help link (user errors) and issue link (system errors) receive defaults.
// Context cancellation becomes a UserCancelError. Anything else is wrapped in
// an UnhandledError system error.
func Normalize(err error, d Defaults) *FxError {
	if err == nil {
		return nil
	}

	fe, ok := AsFxError(err)
	switch {
	case ok:
	case errors.Is(err, context.Canceled):
		fe = NewUserCancelError().WithCause(err)
	default:
		fe = NewSystemError(d.Source, NameUnhandled, err.Error()).WithCause(err)
	}

	if fe.Source == "" || fe.Source == UnknownSource {
		fe.Source = d.Source
	}
	if fe.Class == ClassUser && fe.HelpLink == "" {
		fe.HelpLink = d.HelpLink
	}
	if fe.Class == ClassSystem && fe.IssueLink == "" {
		fe.IssueLink = d.IssueLink
	}
	return fe
}

// Well-known error names.
const (
	NameUserCancel         = "UserCancelError"
	NameDotEnvNotExist     = "DotEnvFileNotExistError"
	NameInvalidEnvName     = "InvalidEnvNameError"
	NameConcurrent         = "ConcurrentError"
	NameNoProjectOpened    = "NoProjectOpenedError"
	NamePathNotExist       = "PathNotExistError"
	NameInvalidProject     = "InvalidProjectError"
	NameDecryption         = "DecryptionError"
	NameEncryption         = "EncryptionError"
	NameReadFile           = "ReadFileError"
	NameWriteFile          = "WriteFileError"
	NameUnhandled          = "UnhandledError"
	NameInvalidLifecycle   = "InvalidLifecycleError"
	NameYamlParsing        = "YamlParsingError"
	NameDriverNotFound     = "DriverNotFoundError"
	NameInvalidDriverArgs  = "InvalidDriverArgsError"
	NamePolicyViolation    = "PolicyViolationError"
	NameMissingInput       = "MissingRequiredInputError"
	NameInvalidInput       = "InvalidInputError"
	NameEnvAlreadyExists   = "EnvAlreadyExistsError"
	NameProjectAlreadyInit = "ProjectAlreadyInitializedError"
)

// SourceCore is the default source for errors raised by the orchestration core.
const SourceCore = "core"

// NewUserCancelError creates the error returned when the user aborts an operation.
func NewUserCancelError() *FxError {
	return NewUserError(SourceCore, NameUserCancel, "operation canceled by user")
}

// NewConcurrentError creates the error returned when the project lock cannot be acquired.
func NewConcurrentError() *FxError {
	return NewUserError(SourceCore, NameConcurrent,
		"another operation is in progress for this project, wait for it to finish and try again")
}

// NewNoProjectOpenedError creates the error returned when no project path was supplied.
func NewNoProjectOpenedError() *FxError {
	return NewUserError(SourceCore, NameNoProjectOpened, "no project path was specified")
}

// NewPathNotExistError creates the error returned when the project path is missing.
func NewPathNotExistError(path string) *FxError {
	return NewUserError(SourceCore, NamePathNotExist,
		fmt.Sprintf("project path does not exist: %s", path)).WithDetail("path", path)
}

// NewInvalidProjectError creates the error returned when a folder is not a project.
func NewInvalidProjectError(path string) *FxError {
	return NewUserError(SourceCore, NameInvalidProject,
		fmt.Sprintf("%s is not a valid project folder", path)).WithDetail("path", path)
}

// NewReadFileError wraps a filesystem read failure.
func NewReadFileError(source, path string, err error) *FxError {
	return NewSystemError(source, NameReadFile,
		fmt.Sprintf("failed to read file %s", path)).WithCause(err).WithDetail("path", path)
}

// NewWriteFileError wraps a filesystem write failure.
func NewWriteFileError(source, path string, err error) *FxError {
	return NewSystemError(source, NameWriteFile,
		fmt.Sprintf("failed to write file %s", path)).WithCause(err).WithDetail("path", path)
}

// NewMissingInputError is returned when a question cannot be answered non-interactively.
func NewMissingInputError(name string) *FxError {
	return NewUserError(SourceCore, NameMissingInput,
		fmt.Sprintf("missing required input %q", name)).WithDetail("input", name)
}
