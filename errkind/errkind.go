// Package errkind centralizes NervusDB's error taxonomy so every layer
// (pager, WAL, planner, executor) reports failures through the same small
// set of kinds instead of ad-hoc strings.
package errkind

import "fmt"

// Kind classifies an error into its family: Parse/Compile,
// Storage, WAL, Runtime, ResourceLimitExceeded.
type Kind int

const (
	KindUnknown Kind = iota

	// Parse/Compile
	KindSyntaxError
	KindUndefinedVariable
	KindInvalidClauseComposition
	KindInvalidArgumentType
	KindMissingParameter
	KindInvalidNumberOfArguments
	KindProcedureNotFound

	// Storage
	KindInvalidMagic
	KindUnsupportedPageSize
	KindPageNotAllocated
	KindPageIDOutOfRange
	KindStorageCorrupted
	KindIoError

	// WAL
	KindWalProtocol
	KindWalChecksumMismatch
	KindWalRecordTooLarge

	// Runtime
	KindDivisionByZero
	KindTypeMismatch
	KindConstraintViolation
	KindTransactionClosed

	// Resource
	KindResourceLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case KindSyntaxError:
		return "SyntaxError"
	case KindUndefinedVariable:
		return "UndefinedVariable"
	case KindInvalidClauseComposition:
		return "InvalidClauseComposition"
	case KindInvalidArgumentType:
		return "InvalidArgumentType"
	case KindMissingParameter:
		return "MissingParameter"
	case KindInvalidNumberOfArguments:
		return "InvalidNumberOfArguments"
	case KindProcedureNotFound:
		return "ProcedureNotFound"
	case KindInvalidMagic:
		return "InvalidMagic"
	case KindUnsupportedPageSize:
		return "UnsupportedPageSize"
	case KindPageNotAllocated:
		return "PageNotAllocated"
	case KindPageIDOutOfRange:
		return "PageIdOutOfRange"
	case KindStorageCorrupted:
		return "StorageCorrupted"
	case KindIoError:
		return "IoError"
	case KindWalProtocol:
		return "WalProtocol"
	case KindWalChecksumMismatch:
		return "WalChecksumMismatch"
	case KindWalRecordTooLarge:
		return "WalRecordTooLarge"
	case KindDivisionByZero:
		return "DivisionByZero"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindTransactionClosed:
		return "TransactionClosed"
	case KindResourceLimitExceeded:
		return "ResourceLimitExceeded"
	default:
		return "Unknown"
	}
}

// Error is a classified error that carries its Kind alongside a message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As reports whether err (or something it wraps) is a classified *Error of
// the given kind.
func As(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ke, ok := err.(*Error); ok {
			e = ke
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// ResourceLimitKind further distinguishes KindResourceLimitExceeded errors,
// carried as a {kind, limit, observed, stage} tuple.
type ResourceLimitKind int

const (
	ResourceTimeout ResourceLimitKind = iota
	ResourceIntermediateRows
	ResourceCollectionItems
	ResourceApplyRowsPerOuter
)

func (r ResourceLimitKind) String() string {
	switch r {
	case ResourceTimeout:
		return "Timeout"
	case ResourceIntermediateRows:
		return "IntermediateRows"
	case ResourceCollectionItems:
		return "CollectionItems"
	case ResourceApplyRowsPerOuter:
		return "ApplyRowsPerOuter"
	default:
		return "Unknown"
	}
}

// ResourceLimitError carries the full guardrail-violation payload described
// raised by the executor's guardrails.
type ResourceLimitError struct {
	ResourceKind ResourceLimitKind
	Limit        int64
	Observed     int64
	Stage        string
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("ResourceLimitExceeded{kind=%s, limit=%d, observed=%d, stage=%s}",
		e.ResourceKind, e.Limit, e.Observed, e.Stage)
}

func (e *ResourceLimitError) ErrorKind() Kind { return KindResourceLimitExceeded }
