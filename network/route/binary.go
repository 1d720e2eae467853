package route

import (
	"encoding/binary"
	"math"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/sock"
)

// LengthPrefixExtractor 二进制协议的路由键
// ---------------
// | len | key |
// ---------------
// len占1/2/4个字节，key之后的数据归Handler
type LengthPrefixExtractor struct {
	lenMsgLen    int
	maxMsgLen    uint32
	littleEndian bool
}

// NewDefaultLengthPrefixExtractor 2字节长度，大端序
func NewDefaultLengthPrefixExtractor() *LengthPrefixExtractor {
	return NewLengthPrefixExtractor(2, false)
}

func NewLengthPrefixExtractor(lenMsgLen int, littleEndian bool) *LengthPrefixExtractor {
	p := &LengthPrefixExtractor{littleEndian: littleEndian}
	if lenMsgLen == 1 || lenMsgLen == 2 || lenMsgLen == 4 {
		p.lenMsgLen = lenMsgLen
	} else {
		log.Warn("invalid length header size %d, using 2", lenMsgLen)
		p.lenMsgLen = 2
	}
	switch p.lenMsgLen {
	case 1:
		p.maxMsgLen = math.MaxUint8
	case 2:
		p.maxMsgLen = math.MaxUint16
	case 4:
		// 路由键不会太长，4字节长度也只接受64K以内
		p.maxMsgLen = math.MaxUint16
	}
	return p
}

func (p *LengthPrefixExtractor) Extract(s *sock.Stream) (string, error) {
	header, err := s.ReadFull(p.lenMsgLen)
	if err != nil {
		return "", errs.Wrap(errs.ExtractError, "read key length", err)
	}
	var keyLen uint32
	switch p.lenMsgLen {
	case 1:
		keyLen = uint32(header[0])
	case 2:
		if p.littleEndian {
			keyLen = uint32(binary.LittleEndian.Uint16(header))
		} else {
			keyLen = uint32(binary.BigEndian.Uint16(header))
		}
	case 4:
		if p.littleEndian {
			keyLen = binary.LittleEndian.Uint32(header)
		} else {
			keyLen = binary.BigEndian.Uint32(header)
		}
	}
	if keyLen == 0 {
		return "", errs.New(errs.ExtractError, "read key length", "key too short")
	}
	if keyLen > p.maxMsgLen {
		return "", errs.New(errs.ExtractError, "read key length", "key too long: %d", keyLen)
	}
	key, err := s.ReadFull(int(keyLen))
	if err != nil {
		return "", errs.Wrap(errs.ExtractError, "read key", err)
	}
	return string(key), nil
}

// Encode 按同样的格式编码路由键，客户端用
func (p *LengthPrefixExtractor) Encode(key string) ([]byte, error) {
	keyLen := uint32(len(key))
	if keyLen == 0 || keyLen > p.maxMsgLen {
		return nil, errs.New(errs.ExtractError, "encode key", "invalid key length %d", keyLen)
	}
	msg := make([]byte, uint32(p.lenMsgLen)+keyLen)
	switch p.lenMsgLen {
	case 1:
		msg[0] = byte(keyLen)
	case 2:
		if p.littleEndian {
			binary.LittleEndian.PutUint16(msg, uint16(keyLen))
		} else {
			binary.BigEndian.PutUint16(msg, uint16(keyLen))
		}
	case 4:
		if p.littleEndian {
			binary.LittleEndian.PutUint32(msg, keyLen)
		} else {
			binary.BigEndian.PutUint32(msg, keyLen)
		}
	}
	copy(msg[p.lenMsgLen:], key)
	return msg, nil
}
