package route

import (
	"strings"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/sock"
)

// PathExtractor 从连接的开头读出路由键
// 只消费决定路由所需的前缀，剩下的数据留给Handler
type PathExtractor interface {
	Extract(s *sock.Stream) (string, error)
}

type ExtractorFunc func(s *sock.Stream) (string, error)

func (f ExtractorFunc) Extract(s *sock.Stream) (string, error) {
	return f(s)
}

// FixedExtractor 不读任何数据，所有连接都走同一个路由
func FixedExtractor(key string) PathExtractor {
	return ExtractorFunc(func(*sock.Stream) (string, error) {
		return key, nil
	})
}

const defaultMaxKeyLen = 1024

// LineExtractor 第一行就是路由键，首尾空白会被去掉
type LineExtractor struct {
	// MaxLen 路由键最大长度，0使用默认值
	MaxLen int
}

func (e LineExtractor) Extract(s *sock.Stream) (string, error) {
	max := e.MaxLen
	if max <= 0 {
		max = defaultMaxKeyLen
	}
	line, err := s.ReadLineLimit(max)
	if err != nil {
		return "", errs.Wrap(errs.ExtractError, "extract line", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", errs.New(errs.ExtractError, "extract line", "empty routing key")
	}
	return key, nil
}

// HTTPExtractor 只解析请求行，头部和body由Handler自己读
type HTTPExtractor struct {
	// IncludeMethod 为true时路由键是 "GET /path"
	IncludeMethod bool
	MaxLen        int
}

func (e HTTPExtractor) Extract(s *sock.Stream) (string, error) {
	max := e.MaxLen
	if max <= 0 {
		max = 8 * defaultMaxKeyLen
	}
	line, err := s.ReadLineLimit(max)
	if err != nil {
		return "", errs.Wrap(errs.ExtractError, "extract request line", err)
	}
	rl, err := ParseRequestLine(line)
	if err != nil {
		return "", err
	}
	if e.IncludeMethod {
		return rl.Method + " " + rl.Path, nil
	}
	return rl.Path, nil
}

// RequestLine METHOD SP target SP HTTP/x.y
type RequestLine struct {
	Method string
	Target string
	// Path 去掉query和fragment的target
	Path  string
	Proto string
}

func ParseRequestLine(line string) (RequestLine, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return RequestLine{}, errs.New(errs.ExtractError, "parse request line", "malformed request line %q", line)
	}
	rl := RequestLine{Method: parts[0], Target: parts[1], Proto: parts[2]}
	if rl.Method == "" || strings.ToUpper(rl.Method) != rl.Method {
		return RequestLine{}, errs.New(errs.ExtractError, "parse request line", "invalid method %q", rl.Method)
	}
	if !strings.HasPrefix(rl.Proto, "HTTP/") {
		return RequestLine{}, errs.New(errs.ExtractError, "parse request line", "invalid protocol %q", rl.Proto)
	}
	rl.Path = rl.Target
	if i := strings.IndexAny(rl.Path, "?#"); i >= 0 {
		rl.Path = rl.Path[:i]
	}
	if rl.Path == "" {
		return RequestLine{}, errs.New(errs.ExtractError, "parse request line", "empty request target")
	}
	return rl, nil
}
