package route

import (
	"encoding/json"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/sock"
)

// JSONExtractor 第一行是只有一个key的json对象，如 {"Login":{...}}
// key就是路由键，value通过Envelope交给Handler
type JSONExtractor struct {
	MaxLen int
}

// Envelope 解析出来的消息体
type Envelope struct {
	ID   string
	Data json.RawMessage
}

func (e JSONExtractor) Extract(s *sock.Stream) (string, error) {
	env, err := e.ReadEnvelope(s)
	if err != nil {
		return "", err
	}
	return env.ID, nil
}

// ReadEnvelope 读一行并解析，Handler也可以用它读后续的消息
func (e JSONExtractor) ReadEnvelope(s *sock.Stream) (Envelope, error) {
	max := e.MaxLen
	if max <= 0 {
		max = sock.DefaultMaxLine
	}
	line, err := s.ReadLineLimit(max)
	if err != nil {
		return Envelope{}, errs.Wrap(errs.ExtractError, "read json line", err)
	}
	var m map[string]json.RawMessage
	if err = json.Unmarshal([]byte(line), &m); err != nil {
		return Envelope{}, errs.Wrap(errs.ExtractError, "decode json envelope", err)
	}
	if len(m) != 1 {
		return Envelope{}, errs.New(errs.ExtractError, "decode json envelope", "want exactly one key, got %d", len(m))
	}
	var env Envelope
	for id, data := range m {
		env = Envelope{ID: id, Data: data}
	}
	return env, nil
}

// WriteEnvelope 按同样的格式写一行
func WriteEnvelope(s *sock.Stream, id string, msg any) error {
	data, err := json.Marshal(map[string]any{id: msg})
	if err != nil {
		return err
	}
	if _, err = s.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.Flush()
}
