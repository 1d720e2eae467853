package sock

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	stateOpen int32 = iota
	stateClosed
	stateReleased
)

// Buffer 独占一个套接字描述符，把流式读写翻译成系统调用
//
// 描述符只属于一个Buffer，Close时先shutdown再close，且只执行一次。
// Release把描述符的所有权转出，之后这个Buffer不再做任何事。
type Buffer struct {
	fd    int
	peer  ip.Endpoint
	sys   sysOps
	state atomic.Int32
	// 系统调用持读锁，close(fd)持写锁，防止描述符被回收复用后误操作
	mu sync.RWMutex
}

type options struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type Option func(*options)

// ReadTimeout 单次recv的超时，0表示不超时
func ReadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readTimeout = d
	}
}

// WriteTimeout 单次send的超时，0表示不超时
func WriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// Connect 创建套接字并连接到addr:port
// 连接失败时新建的描述符会被关闭，不会泄漏
func Connect(addr ip.Address, port ip.Port, opts ...Option) (*Buffer, error) {
	fd, err := newSocket()
	if err != nil {
		return nil, err
	}
	peer := ip.Endpoint{Addr: addr, Port: port}
	if err = connect(fd, peer.Sockaddr()); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Sys(errs.ConnectError, "connect("+peer.String()+")", err)
	}
	b := newBuffer(fd, peer, defaultOps)
	if err = b.apply(opts...); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// connect 被信号打断后连接仍在内核里继续，再次connect返回EALREADY/EISCONN
func connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	for i := 0; i < errs.MaxInterruptRetry; i++ {
		if !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EALREADY) {
			break
		}
		time.Sleep(time.Millisecond << i)
		err = unix.Connect(fd, sa)
	}
	if errors.Is(err, unix.EISCONN) {
		return nil
	}
	return err
}

// Adopt 接管accept得到的描述符，不做任何系统调用
func Adopt(fd int, peer ip.Endpoint) *Buffer {
	return newBuffer(fd, peer, defaultOps)
}

func newBuffer(fd int, peer ip.Endpoint, sys sysOps) *Buffer {
	return &Buffer{fd: fd, peer: peer, sys: sys}
}

func (b *Buffer) apply(opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.readTimeout > 0 {
		if err := b.SetReadTimeout(o.readTimeout); err != nil {
			return err
		}
	}
	if o.writeTimeout > 0 {
		if err := b.SetWriteTimeout(o.writeTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) Fd() int {
	return b.fd
}

func (b *Buffer) Peer() ip.Endpoint {
	return b.peer
}

func (b *Buffer) Closed() bool {
	return b.state.Load() != stateOpen
}

// do 在读锁内执行系统调用
func (b *Buffer) do(op string, kind errs.Kind, fn func(fd int) (int, error)) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.Load() != stateOpen {
		return 0, &errs.Error{Kind: errs.Closed, Op: op}
	}
	n, err := errs.Retry(func() (int, error) {
		return fn(b.fd)
	})
	if err != nil {
		return 0, errs.Sys(kind, op, err)
	}
	return n, nil
}

// Send 一次send，可能只发送了一部分，不重试
func (b *Buffer) Send(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.do("send()", errs.SendError, func(fd int) (int, error) {
		return b.sys.Send(fd, p)
	})
}

// Recv 一次recv，返回0表示对端已关闭写
func (b *Buffer) Recv(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.do("recv()", errs.RecvError, func(fd int) (int, error) {
		return b.sys.Recv(fd, p, 0)
	})
}

// Peek 查看下一个字节但不从接收队列取走，没有数据时返回io.EOF
func (b *Buffer) Peek() (byte, error) {
	var c [1]byte
	n, err := b.do("recv(MSG_PEEK)", errs.RecvError, func(fd int) (int, error) {
		return b.sys.Recv(fd, c[:], unix.MSG_PEEK)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return c[0], nil
}

// ReadByte 取走一个字节
func (b *Buffer) ReadByte() (byte, error) {
	var c [1]byte
	n, err := b.Recv(c[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return c[0], nil
}

// WriteByte 发送一个字节
func (b *Buffer) WriteByte(c byte) error {
	n, err := b.Send([]byte{c})
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrShortWrite
	}
	return nil
}

// Read io.Reader，0字节时返回io.EOF
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.Recv(p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write io.Writer，循环Send直到全部发出
func (b *Buffer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := b.Send(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (b *Buffer) setTimeout(op string, opt int, d time.Duration) error {
	_, err := b.do(op, errs.Unknown, func(fd int) (int, error) {
		return 0, b.sys.SetTimeout(fd, opt, d)
	})
	return err
}

// SetReadTimeout 超时后Recv返回EAGAIN，errs.Timeout可判断
func (b *Buffer) SetReadTimeout(d time.Duration) error {
	return b.setTimeout("setsockopt(SO_RCVTIMEO)", unix.SO_RCVTIMEO, d)
}

func (b *Buffer) SetWriteTimeout(d time.Duration) error {
	return b.setTimeout("setsockopt(SO_SNDTIMEO)", unix.SO_SNDTIMEO, d)
}

// CloseWrite 半关闭，对端会读到EOF
func (b *Buffer) CloseWrite() error {
	_, err := b.do("shutdown(SHUT_WR)", errs.SendError, func(fd int) (int, error) {
		return 0, b.sys.Shutdown(fd, unix.SHUT_WR)
	})
	return err
}

// Shutdown 唤醒阻塞在这个描述符上的读写，但不释放描述符
func (b *Buffer) Shutdown() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.Load() != stateOpen {
		return nil
	}
	err := b.sys.Shutdown(b.fd, unix.SHUT_RDWR)
	if errors.Is(err, unix.ENOTCONN) {
		return nil
	}
	return err
}

// Close shutdown后close，重复调用无副作用
func (b *Buffer) Close() error {
	if !b.state.CompareAndSwap(stateOpen, stateClosed) {
		return nil
	}
	// 先shutdown让阻塞中的recv/send返回，再等它们释放读锁
	err := b.sys.Shutdown(b.fd, unix.SHUT_RDWR)
	if errors.Is(err, unix.ENOTCONN) {
		err = nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return multierr.Append(errs.Sys(errs.Unknown, "shutdown()", err),
		errs.Sys(errs.Unknown, "close()", b.sys.Close(b.fd)))
}

// Release 把描述符交出去，调用方负责关闭
func (b *Buffer) Release() (int, error) {
	if !b.state.CompareAndSwap(stateOpen, stateReleased) {
		return -1, &errs.Error{Kind: errs.Closed, Op: "release"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fd := b.fd
	b.fd = -1
	return fd, nil
}

// Move 转移所有权到一个新的Buffer，原Buffer变成空壳
func (b *Buffer) Move() (*Buffer, error) {
	fd, err := b.Release()
	if err != nil {
		return nil, err
	}
	return newBuffer(fd, b.peer, b.sys), nil
}
