package ip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"golang.org/x/sys/unix"
)

// Address 128位网络地址，IPv4以IPv4-mapped形式保存
// 值类型，创建后不可变
type Address struct {
	raw [16]byte
}

var (
	// Unspecified 通配地址 ::
	Unspecified = Address{}
	// Loopback ::1
	Loopback = Address{raw: [16]byte{15: 1}}
)

// ParseAddress 解析文本地址，不接受zone和域名
func ParseAddress(text string) (Address, error) {
	a, err := netip.ParseAddr(text)
	if err != nil {
		return Address{}, &errs.Error{Kind: errs.InvalidAddressFormat, Op: "parse " + strconv.Quote(text), Err: err}
	}
	if a.Zone() != "" {
		return Address{}, errs.New(errs.InvalidAddressFormat, "parse "+strconv.Quote(text), "zone not supported")
	}
	return Address{raw: a.As16()}, nil
}

// MustParseAddress 用于常量，解析失败直接panic
func MustParseAddress(text string) Address {
	a, err := ParseAddress(text)
	if err != nil {
		panic(err)
	}
	return a
}

func AddressFrom16(raw [16]byte) Address {
	return Address{raw: raw}
}

func (a Address) Bytes() [16]byte {
	return a.raw
}

func (a Address) IsUnspecified() bool {
	return a == Unspecified
}

func (a Address) IsV4Mapped() bool {
	return netip.AddrFrom16(a.raw).Is4In6()
}

func (a Address) String() string {
	addr := netip.AddrFrom16(a.raw)
	if addr.Is4In6() {
		return addr.Unmap().String()
	}
	return addr.String()
}

// Port 以网络字节序保存的16位端口
type Port struct {
	data uint16
}

// NewPort 转换只在这里做一次
func NewPort(value uint16) Port {
	return Port{data: hton(value)}
}

// PortFromRaw 已经是网络字节序的值
func PortFromRaw(raw uint16) Port {
	return Port{data: raw}
}

// Raw 网络字节序
func (p Port) Raw() uint16 {
	return p.data
}

// Value 主机字节序
func (p Port) Value() uint16 {
	return hton(p.data)
}

// Bytes 线上的两个字节，大端
func (p Port) Bytes() [2]byte {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], p.data)
	return b
}

func (p Port) String() string {
	return strconv.Itoa(int(p.Value()))
}

// hton 主机序和网络序互转，对称操作
func hton(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

// Endpoint 地址+端口
type Endpoint struct {
	Addr Address
	Port Port
}

func (e Endpoint) String() string {
	if e.Addr.IsV4Mapped() {
		return fmt.Sprintf("%s:%d", e.Addr, e.Port.Value())
	}
	return fmt.Sprintf("[%s]:%d", e.Addr, e.Port.Value())
}

// Sockaddr 转成AF_INET6的sockaddr，套接字统一使用IPv6族
func (e Endpoint) Sockaddr() *unix.SockaddrInet6 {
	return &unix.SockaddrInet6{Port: int(e.Port.Value()), Addr: e.Addr.raw}
}

// FromSockaddr accept/getsockname返回的地址
func FromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet6:
		return Endpoint{Addr: Address{raw: v.Addr}, Port: NewPort(uint16(v.Port))}, nil
	case *unix.SockaddrInet4:
		return Endpoint{
			Addr: Address{raw: netip.AddrFrom4(v.Addr).As16()},
			Port: NewPort(uint16(v.Port)),
		}, nil
	}
	return Endpoint{}, fmt.Errorf("unsupported sockaddr %T", sa)
}
