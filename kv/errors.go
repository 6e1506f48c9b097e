package kv

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrHandleClosed = errors.New("write handle closed")
	ErrUnknownTable = errors.New("unknown table")
)

// ErrorCode is the numeric code the store side puts in front of its messages.
type ErrorCode int

const (
	CodeUnknown               ErrorCode = 0
	CodeIndexMetadataNotFound ErrorCode = 2008
	CodeTxStateInvalid        ErrorCode = 2009
)

var codeStates = map[ErrorCode]string{
	CodeIndexMetadataNotFound: "INT10",
	CodeTxStateInvalid:        "INT11",
}

// ServerError is a classified store-side failure.
type ServerError struct {
	Code    ErrorCode
	State   string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.State, e.Message)
}

// NewServerError builds the error a store server sends back for code. The
// result travels as a gRPC status with the classified message.
func NewServerError(code ErrorCode, msg string) error {
	se := &ServerError{Code: code, State: codeStates[code], Message: msg}
	return status.Error(codes.FailedPrecondition, se.Error())
}

var serverErrorPattern = regexp.MustCompile(`ERROR (\d+) \(([0-9A-Z]*)\): (.*)`)

// ClassifyError extracts a ServerError from err. It first looks for one in
// the chain, then parses the message of a gRPC status anywhere in the chain.
func ClassifyError(err error) (*ServerError, bool) {
	if err == nil {
		return nil, false
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	msg := err.Error()
	if st, ok := status.FromError(errors.UnwrapAll(err)); ok && st.Code() != codes.OK {
		msg = st.Message()
	}
	m := serverErrorPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil, false
	}
	code, perr := strconv.Atoi(m[1])
	if perr != nil {
		return nil, false
	}
	return &ServerError{Code: ErrorCode(code), State: m[2], Message: m[3]}, true
}

// IsIndexMetadataNotFound reports whether the store could not find the index
// metadata referenced by a batch, which happens when a region moved after the
// metadata was pushed.
func IsIndexMetadataNotFound(err error) bool {
	se, ok := ClassifyError(err)
	return ok && se.Code == CodeIndexMetadataNotFound
}
