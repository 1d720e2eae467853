package server

import (
	"runtime"
	"time"

	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/YiuTerran/go-sockstream/network/route"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	defaultBacklog = 16
)

// Options 零值可用：监听 [::]:随机端口
type Options struct {
	// Address 零值是 ::，同时接受IPv4(映射地址)和IPv6
	Address ip.Address
	// Port 0表示由内核分配，Addr()可以查到实际端口
	Port    uint16
	Backlog int

	// Workers 同时处理的连接数上限
	Workers int
	// QueueSize 等待worker的连接数上限，满了以后poller阻塞
	QueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Extractor route.PathExtractor
	// NotFound 找不到路由时的处理函数，nil则直接关闭连接
	NotFound route.Handler

	// AcceptRate 每秒最多accept多少个连接，0不限制
	AcceptRate  rate.Limit
	AcceptBurst int

	// Registerer nil时每个Server用自己的registry
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.Backlog <= 0 {
		o.Backlog = defaultBacklog
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU() * 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.Workers * 4
	}
	if o.Extractor == nil {
		o.Extractor = route.LineExtractor{}
	}
	if o.AcceptRate > 0 && o.AcceptBurst <= 0 {
		o.AcceptBurst = 1
	}
	return o
}
