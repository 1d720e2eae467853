//go:build linux

package server

import (
	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"golang.org/x/sys/unix"
)

// listen 创建双栈监听套接字，失败时描述符已经关闭
func listen(local ip.Endpoint, backlog int) (int, ip.Endpoint, error) {
	sfd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, ip.Endpoint{}, errs.Sys(errs.SocketCreateError, "socket()", err)
	}
	bound, err := setupListener(sfd, local, backlog)
	if err != nil {
		_ = unix.Close(sfd)
		return -1, ip.Endpoint{}, err
	}
	return sfd, bound, nil
}

func setupListener(sfd int, local ip.Endpoint, backlog int) (ip.Endpoint, error) {
	if err := unix.SetsockoptInt(sfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return ip.Endpoint{}, errs.Sys(errs.SocketCreateError, "setsockopt(SO_REUSEADDR)", err)
	}
	if err := unix.SetsockoptInt(sfd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return ip.Endpoint{}, errs.Sys(errs.SocketCreateError, "setsockopt(IPV6_V6ONLY)", err)
	}
	if err := unix.Bind(sfd, local.Sockaddr()); err != nil {
		return ip.Endpoint{}, errs.Sys(errs.BindError, "bind("+local.String()+")", err)
	}
	if err := unix.Listen(sfd, backlog); err != nil {
		return ip.Endpoint{}, errs.Sys(errs.ListenError, "listen()", err)
	}
	sa, err := unix.Getsockname(sfd)
	if err != nil {
		return ip.Endpoint{}, errs.Sys(errs.ListenError, "getsockname()", err)
	}
	bound, err := ip.FromSockaddr(sa)
	if err != nil {
		return ip.Endpoint{}, errs.Wrap(errs.ListenError, "getsockname()", err)
	}
	return bound, nil
}

// accept 阻塞，listener被shutdown后返回EINVAL
func accept(fd int) (int, ip.Endpoint, error) {
	var (
		nfd int
		sa  unix.Sockaddr
		err error
	)
	for i := 0; i <= errs.MaxInterruptRetry; i++ {
		nfd, sa, err = unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return -1, ip.Endpoint{}, errs.Sys(errs.AcceptError, "accept()", err)
	}
	// 对端地址拿不到不影响服务
	peer, _ := ip.FromSockaddr(sa)
	return nfd, peer, nil
}

// stopListener 唤醒阻塞在accept上的poller
func stopListener(fd int) {
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
}

func closeListener(fd int) error {
	return errs.Sys(errs.Closed, "close(listener)", unix.Close(fd))
}
