package model

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures so callers can tell bad input apart from
// infrastructure trouble.
type ErrorKind string

const (
	KindInvalidDateFormat      ErrorKind = "invalid_date_format"
	KindMissingRequiredColumns ErrorKind = "missing_required_columns"
	KindInvalidInput           ErrorKind = "invalid_input"
	KindRemoteListingFailure   ErrorKind = "remote_listing_failure"
	KindRemoteDownloadFailure  ErrorKind = "remote_download_failure"
	KindDataIntegrity          ErrorKind = "data_integrity"
	KindQueryTaskFailure       ErrorKind = "query_task_failure"
)

// Error is the typed error carried through the scoring core.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Columns []string // set for KindMissingRequiredColumns
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Columns) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Columns, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error. err may be nil.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// MissingColumns reports every required column absent from an input sheet.
func MissingColumns(cols []string) *Error {
	return &Error{
		Kind:    KindMissingRequiredColumns,
		Msg:     "input is missing mandatory column(s)",
		Columns: cols,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsBadInput reports whether err was caused by the caller's input (4xx).
func IsBadInput(err error) bool {
	switch KindOf(err) {
	case KindInvalidDateFormat, KindMissingRequiredColumns, KindInvalidInput:
		return true
	}
	return false
}

// IsRetryable reports whether err is an infrastructure failure worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRemoteListingFailure, KindRemoteDownloadFailure, KindQueryTaskFailure:
		return true
	}
	return false
}
