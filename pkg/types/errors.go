package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the order flow
type ErrorKind string

const (
	KindInputInvalid          ErrorKind = "input_invalid"
	KindQuoteFailed           ErrorKind = "quote_failed"
	KindAllowanceInsufficient ErrorKind = "allowance_insufficient"
	KindApprovalRejected      ErrorKind = "approval_rejected"
	KindApprovalFailed        ErrorKind = "approval_failed"
	KindValidationRejected    ErrorKind = "validation_rejected"
	KindNetworkMismatch       ErrorKind = "network_mismatch"
	KindSubmissionRejected    ErrorKind = "submission_rejected"
	KindSubmissionFailed      ErrorKind = "submission_failed"
	KindUnknownChain          ErrorKind = "unknown_chain"
	KindInvalidAddress        ErrorKind = "invalid_address"
	KindInvalidArgument       ErrorKind = "invalid_argument"
	KindUnknown               ErrorKind = "unknown"
)

// Error is a classified failure carrying a human-readable message
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a classified error
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var (
	ErrInputInvalid       = &Error{Kind: KindInputInvalid, Message: "invalid input"}
	ErrQuoteFailed        = &Error{Kind: KindQuoteFailed, Message: "quote failed"}
	ErrApprovalRejected   = &Error{Kind: KindApprovalRejected, Message: "approval rejected"}
	ErrApprovalFailed     = &Error{Kind: KindApprovalFailed, Message: "approval failed"}
	ErrValidationRejected = &Error{Kind: KindValidationRejected, Message: "order rejected"}
	ErrNetworkMismatch    = &Error{Kind: KindNetworkMismatch, Message: "wrong network"}
	ErrSubmissionRejected = &Error{Kind: KindSubmissionRejected, Message: "submission rejected"}
	ErrSubmissionFailed   = &Error{Kind: KindSubmissionFailed, Message: "submission failed"}
	ErrUnknownChain       = &Error{Kind: KindUnknownChain, Message: "unknown chain"}
	ErrInvalidAddress     = &Error{Kind: KindInvalidAddress, Message: "invalid address"}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrUnknown            = &Error{Kind: KindUnknown, Message: "unknown error"}
)

// ErrUserRejected is returned by wallets when the user declines a request
var ErrUserRejected = errors.New("user rejected the request")

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
}

// IsUserRejection reports whether err represents the user declining a wallet prompt
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
