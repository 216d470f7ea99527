package ferr

import (
	"net/http"

	"github.com/kazz187/taskforge/pkg/flog"
)

//go:generate go tool stringer -type=Code -output=code_string.go code.go
type Code int

const (
	OK                   = Code(0)
	Cancelled            = Code(1)
	Unknown              = Code(2)
	InvalidArgument      = Code(3)
	TimedOut             = Code(4)
	NotFound             = Code(5)
	AlreadyExists        = Code(6)
	PolicyViolation      = Code(7)
	ResourceExceeded     = Code(8)
	Conflict             = Code(9)
	UnknownTool          = Code(10)
	NeedsConfirmation    = Code(11)
	ReasoningUnavailable = Code(12)
	ReasoningMalformed   = Code(13)
	Internal             = Code(14)
	Unavailable          = Code(15)
)

var codeToLevelMap = map[Code]flog.Level{
	OK:                   flog.LevelInfo,
	Cancelled:            flog.LevelInfo,
	Unknown:              flog.LevelError,
	InvalidArgument:      flog.LevelInfo,
	TimedOut:             flog.LevelWarn,
	NotFound:             flog.LevelInfo,
	AlreadyExists:        flog.LevelInfo,
	PolicyViolation:      flog.LevelWarn,
	ResourceExceeded:     flog.LevelWarn,
	Conflict:             flog.LevelInfo,
	UnknownTool:          flog.LevelWarn,
	NeedsConfirmation:    flog.LevelInfo,
	ReasoningUnavailable: flog.LevelError,
	ReasoningMalformed:   flog.LevelWarn,
	Internal:             flog.LevelError,
	Unavailable:          flog.LevelError,
}

// Level reports the log level at which errors of this code are recorded.
func (c Code) Level() flog.Level {
	l, ok := codeToLevelMap[c]
	if !ok {
		return flog.LevelError
	}
	return l
}

func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Cancelled:
		return 499
	case Unknown:
		return http.StatusInternalServerError
	case InvalidArgument:
		return http.StatusBadRequest
	case TimedOut:
		return http.StatusGatewayTimeout
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case PolicyViolation:
		return http.StatusForbidden
	case ResourceExceeded:
		return http.StatusTooManyRequests
	case Conflict:
		return http.StatusConflict
	case UnknownTool:
		return http.StatusBadRequest
	case NeedsConfirmation:
		return http.StatusPreconditionRequired
	case ReasoningUnavailable:
		return http.StatusServiceUnavailable
	case ReasoningMalformed:
		return http.StatusBadGateway
	case Internal:
		return http.StatusInternalServerError
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
