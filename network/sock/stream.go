package sock

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/YiuTerran/go-sockstream/network/ip"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	defaultBufSize = 4096
	// DefaultMaxLine ReadLine允许的最长行
	DefaultMaxLine = 64 * 1024
)

var ErrLineTooLong = errors.New("sock: line too long")

// Stream 基于Buffer的带缓冲读写流
//
// 同一时刻最多一个读者和一个写者：读操作之间、写操作之间分别由各自的锁串行化，
// 读和写可以在两个goroutine里同时进行。
type Stream struct {
	buf *Buffer
	r   *bufio.Reader
	w   *bufio.Writer
	rmu sync.Mutex
	wmu sync.Mutex

	errMu sync.Mutex
	err   error
	eof   atomic.Bool
}

func NewStream(b *Buffer) *Stream {
	return &Stream{
		buf: b,
		r:   bufio.NewReaderSize(b, defaultBufSize),
		w:   bufio.NewWriterSize(b, defaultBufSize),
	}
}

// Dial 连接到addr:port并返回流
func Dial(addr ip.Address, port ip.Port, opts ...Option) (*Stream, error) {
	b, err := Connect(addr, port, opts...)
	if err != nil {
		return nil, err
	}
	return NewStream(b), nil
}

func (s *Stream) Buffer() *Buffer {
	return s.buf
}

func (s *Stream) Peer() ip.Endpoint {
	return s.buf.Peer()
}

// record EOF单独记录，其他错误只保留第一个
func (s *Stream) record(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		s.eof.Store(true)
		return err
	}
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	return err
}

// Err 第一个非EOF错误
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) EOF() bool {
	return s.eof.Load()
}

// Good 没有出错也没有读到结尾
func (s *Stream) Good() bool {
	return !s.EOF() && s.Err() == nil
}

func (s *Stream) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	n, err := s.r.Read(p)
	return n, s.record(err)
}

func (s *Stream) ReadByte() (byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	c, err := s.r.ReadByte()
	return c, s.record(err)
}

// Peek 不前移读位置
func (s *Stream) Peek() (byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	b, err := s.r.Peek(1)
	if err != nil {
		return 0, s.record(err)
	}
	return b[0], nil
}

// Buffered 已经读进缓冲区还没被消费的字节数
func (s *Stream) Buffered() int {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.r.Buffered()
}

// ReadFull 读满n个字节
func (s *Stream) ReadFull(n int) ([]byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	p := make([]byte, n)
	got, err := io.ReadFull(s.r, p)
	return p[:got], s.record(err)
}

// ReadString 读到delim为止，包含delim
func (s *Stream) ReadString(delim byte) (string, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	line, err := s.r.ReadString(delim)
	return line, s.record(err)
}

// ReadLine 读一行，去掉\n或\r\n
// 流结束前的最后半行正常返回，只有什么都没读到时才返回io.EOF
func (s *Stream) ReadLine() (string, error) {
	return s.ReadLineLimit(DefaultMaxLine)
}

func (s *Stream) ReadLineLimit(max int) (string, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	var line []byte
	for {
		frag, err := s.r.ReadSlice('\n')
		line = append(line, frag...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			// 还可能有一个\r
			if len(line) > max+1 {
				return "", s.record(ErrLineTooLong)
			}
			continue
		}
		s.record(err)
		if errors.Is(err, io.EOF) && len(line) > 0 {
			if len(line) > max {
				return "", s.record(ErrLineTooLong)
			}
			return string(line), nil
		}
		return "", err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > max {
		return "", s.record(ErrLineTooLong)
	}
	return string(line), nil
}

// Write 写进缓冲区，Flush或Close时才真正发送
func (s *Stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := s.w.Write(p)
	return n, s.record(err)
}

func (s *Stream) WriteString(str string) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := s.w.WriteString(str)
	return n, s.record(err)
}

func (s *Stream) WriteByte(c byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.record(s.w.WriteByte(c))
}

// Printf 格式化写入
func (s *Stream) Printf(format string, a ...any) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := fmt.Fprintf(s.w, format, a...)
	return n, s.record(err)
}

func (s *Stream) Flush() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.record(s.w.Flush())
}

// CloseWrite 发送缓冲区内容后半关闭
func (s *Stream) CloseWrite() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.record(s.buf.CloseWrite())
}

// Close 发送剩余数据并关闭底层描述符，重复调用无副作用
func (s *Stream) Close() error {
	var err error
	if !s.buf.Closed() {
		s.wmu.Lock()
		if s.w.Buffered() > 0 && s.Err() == nil {
			err = s.w.Flush()
		}
		s.wmu.Unlock()
	}
	return multierr.Append(err, s.buf.Close())
}
