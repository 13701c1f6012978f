package worker

import "errors"

type ErrorCode string

const (
	ErrorCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrorCodePrecondition ErrorCode = "PRECONDITION_FAILED"
	ErrorCodeBadRequest   ErrorCode = "BAD_REQUEST"
)

// Error is a trigger-time failure whose message is shown to the caller
// as is.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return e.Msg
}

func NewErr(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf returns the code of a *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	errRepositoryNotFound = NewErr(ErrorCodeNotFound, "Repository not found")
	errReviewNotFound     = NewErr(ErrorCodeNotFound, "Review not found")
	errNotConnected       = NewErr(ErrorCodePrecondition, "GitHub account not connected")
	errInvalidRepoName    = NewErr(ErrorCodeBadRequest, "Invalid repository name")
)

// Processing failures keep these exact messages on the review.
const (
	msgNoRepository   = "No repository found"
	msgNoAccessToken  = "GitHub access token not found"
	msgInvalidName    = "Invalid repository name"
	msgUnknownError   = "Unknown error"
	msgStaleTimedOut  = "Review processing timed out"
	msgAlreadyRunning = "Review already in progress"
	msgNotConnected   = "Repository not connected"
	msgTriggered      = "Review triggered"
)
