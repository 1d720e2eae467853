package errs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

/**  套接字相关的错误分类
  *  系统调用失败时总是带上原始errno
**/

type Kind int

const (
	Unknown Kind = iota
	InvalidAddressFormat
	SocketCreateError
	BindError
	ListenError
	ConnectError
	AcceptError
	SendError
	RecvError
	RouteNotFound
	ExtractError
	Closed
)

// MaxInterruptRetry 被信号打断(EINTR)时最多重试的次数，其他错误不重试
const MaxInterruptRetry = 8

var kindNames = map[Kind]string{
	Unknown:              "unknown error",
	InvalidAddressFormat: "invalid address format",
	SocketCreateError:    "socket create error",
	BindError:            "bind error",
	ListenError:          "listen error",
	ConnectError:         "connect error",
	AcceptError:          "accept error",
	SendError:            "send error",
	RecvError:            "recv error",
	RouteNotFound:        "route not found",
	ExtractError:         "extract error",
	Closed:               "use of closed socket",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// 只有Kind的哨兵错误，配合errors.Is使用
var (
	ErrInvalidAddressFormat = &Error{Kind: InvalidAddressFormat}
	ErrRouteNotFound        = &Error{Kind: RouteNotFound}
	ErrClosed               = &Error{Kind: Closed}
)

type Error struct {
	Kind Kind
	// Op 出错的操作，如 socket()、recv()
	Op string
	// Errno 系统调用返回的错误码，非系统调用错误时为0
	Errno unix.Errno
	// Err 其他原因
	Err error
}

func (e *Error) Error() string {
	var cause error
	if e.Errno != 0 {
		cause = e.Errno
	} else {
		cause = e.Err
	}
	switch {
	case e.Op != "" && cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, cause)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}
	return e.Err
}

// Is 按Kind比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sys 包装系统调用的错误，err非Errno时放进Err
func Sys(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return &Error{Kind: kind, Op: op, Errno: errno}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func New(kind Kind, op string, format string, a ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// Wrap 保留原始错误链
func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Timeout 设置了SO_RCVTIMEO/SO_SNDTIMEO后超时返回EAGAIN
func Timeout(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Retry 只对EINTR重试，最多MaxInterruptRetry次
func Retry[T any](fn func() (T, error)) (T, error) {
	var (
		r   T
		err error
	)
	for i := 0; i <= MaxInterruptRetry; i++ {
		r, err = fn()
		if !errors.Is(err, unix.EINTR) {
			return r, err
		}
	}
	return r, err
}
