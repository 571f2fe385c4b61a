package errno

import (
	"errors"
	"fmt"
	"net/http"
)

// Errno is the service-wide error kind. Code doubles as the HTTP status
// used when the error surfaces on a request path.
type Errno struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Errno) Error() string {
	return e.Message
}

// HTTPStatus maps the code to a valid HTTP status.
func (e *Errno) HTTPStatus() int {
	if e.Code >= 400 && e.Code < 600 {
		return e.Code
	}
	return http.StatusInternalServerError
}

var (
	OK = &Errno{Code: 200, Message: "Success"}

	ErrValidation   = &Errno{Code: 400, Message: "Invalid request"}
	ErrPrecondition = &Errno{Code: 400, Message: "Precondition failed"}
	ErrNotFound     = &Errno{Code: 404, Message: "Not found"}
	ErrConflict     = &Errno{Code: 409, Message: "Conflict"}

	ErrInternal    = &Errno{Code: 500, Message: "Internal server error"}
	ErrDatabase    = &Errno{Code: 500, Message: "Database error"}
	ErrObjectStore = &Errno{Code: 502, Message: "Object store error"}

	// Pipeline error kinds.
	ErrJobNotFound       = &Errno{Code: 404, Message: "Job not found"}
	ErrObjectNotFound    = &Errno{Code: 404, Message: "Object not found"}
	ErrJobExists         = &Errno{Code: 409, Message: "Job already exists"}
	ErrJobProcessing     = &Errno{Code: 409, Message: "Job is processing"}
	ErrAlreadyQueued     = &Errno{Code: 409, Message: "Job already queued"}
	ErrJobNotFailed      = &Errno{Code: 400, Message: "Job is not in failed state"}
	ErrAttemptsExhausted = &Errno{Code: 400, Message: "Job attempts exhausted"}
	ErrSourceTooLarge    = &Errno{Code: 400, Message: "Source file exceeds size limit"}
	ErrRawKeyRequired    = &Errno{Code: 400, Message: "raw_object_key is required"}
	ErrInvalidStage      = &Errno{Code: 400, Message: "Invalid stage"}
	ErrQueueUnavailable  = &Errno{Code: 502, Message: "Queue backend unavailable"}
)

// BizError carries an Errno kind plus the underlying cause.
type BizError struct {
	Kind  *Errno
	Cause error
}

func NewBizError(kind *Errno, cause error) *BizError {
	if kind == nil {
		kind = ErrInternal
	}
	return &BizError{Kind: kind, Cause: cause}
}

func (e *BizError) Error() string {
	if e.Cause == nil {
		return e.Kind.Message
	}
	return fmt.Sprintf("%s: %v", e.Kind.Message, e.Cause)
}

func (e *BizError) Unwrap() error {
	return e.Cause
}

// Decode extracts the Errno kind and detail from any error. Unclassified
// errors collapse to ErrInternal with the error text as detail.
func Decode(err error) (*Errno, string) {
	if err == nil {
		return OK, ""
	}
	var kind *Errno
	if errors.As(err, &kind) {
		return kind, ""
	}
	var biz *BizError
	if errors.As(err, &biz) {
		detail := ""
		if biz.Cause != nil {
			detail = biz.Cause.Error()
		}
		return biz.Kind, detail
	}
	return ErrInternal, err.Error()
}
