//go:build linux

package sock

import (
	"time"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"golang.org/x/sys/unix"
)

// sysOps 描述符上的系统调用，测试时可以替换成短读短写的实现
type sysOps interface {
	Send(fd int, p []byte) (int, error)
	Recv(fd int, p []byte, flags int) (int, error)
	Shutdown(fd int, how int) error
	Close(fd int) error
	SetTimeout(fd int, opt int, d time.Duration) error
}

type unixOps struct{}

var defaultOps sysOps = unixOps{}

func (unixOps) Send(fd int, p []byte) (int, error) {
	// MSG_NOSIGNAL: 对端关闭时返回EPIPE而不是SIGPIPE
	n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (unixOps) Recv(fd int, p []byte, flags int) (int, error) {
	n, _, err := unix.Recvfrom(fd, p, flags)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (unixOps) Shutdown(fd int, how int) error {
	return unix.Shutdown(fd, how)
}

func (unixOps) Close(fd int) error {
	return unix.Close(fd)
}

func (unixOps) SetTimeout(fd int, opt int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv)
}

// newSocket 统一使用AF_INET6，关掉V6ONLY后IPv4地址以mapped形式连接
// 失败时描述符已经关闭
func newSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errs.Sys(errs.SocketCreateError, "socket()", err)
	}
	if err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		_ = unix.Close(fd)
		return -1, errs.Sys(errs.SocketCreateError, "setsockopt(IPV6_V6ONLY)", err)
	}
	return fd, nil
}
