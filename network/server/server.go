package server

import (
	"context"
	"sync"
	"time"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/base/structs/set"
	"github.com/YiuTerran/go-sockstream/base/structs/wg"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/YiuTerran/go-sockstream/network/metrics"
	"github.com/YiuTerran/go-sockstream/network/route"
	"github.com/YiuTerran/go-sockstream/network/sock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second

	notFoundLabel = "<not_found>"
)

// Server 一个poller负责accept，固定数量的worker按路由分发连接
//
// 连接交给Handler时已经包装成Stream，Handler返回后由Server负责关闭。
// Handler是在worker里同步执行的，慢Handler会占住worker，队列满了以后
// poller停止accept，新连接留在内核的backlog里。
type Server struct {
	opts     Options
	fd       int
	addr     ip.Endpoint
	routes   *route.Table
	metrics  *metrics.Server
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	jobs     chan *conn

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	cons      *set.Set[*sock.Buffer]
	mutexCons sync.Mutex
	wgLn      sync.WaitGroup
	wgWorkers sync.WaitGroup
	// 已经accept但还没释放的连接
	tasks *wg.WaitGroup
}

type conn struct {
	id  string
	buf *sock.Buffer
}

// New 绑定监听地址并开始服务，返回时已经可以接受连接
func New(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	local := ip.Endpoint{Addr: opts.Address, Port: ip.NewPort(opts.Port)}
	fd, bound, err := listen(local, opts.Backlog)
	if err != nil {
		return nil, err
	}
	reg, gatherer := opts.Registerer, prometheus.Gatherer(nil)
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		fd:       fd,
		addr:     bound,
		routes:   route.NewTable(),
		metrics:  metrics.NewServer(reg),
		gatherer: gatherer,
		jobs:     make(chan *conn, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		cons:     set.NewSet[*sock.Buffer](),
		tasks:    wg.NewWaitGroup("server " + bound.String()),
	}
	if opts.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(opts.AcceptRate, opts.AcceptBurst)
	}
	s.tasks.SetWarnCnt(int64(opts.Workers + opts.QueueSize))

	s.wgWorkers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.worker()
	}
	s.wgLn.Add(1)
	go s.run()
	log.Info("server listening on %s, workers:%d, queue:%d", bound, opts.Workers, opts.QueueSize)
	return s, nil
}

// Addr 实际绑定的地址，端口为0时由内核分配
func (s *Server) Addr() ip.Endpoint {
	return s.addr
}

// RegisterRoute 可以在运行期间调用，重复注册会覆盖
func (s *Server) RegisterRoute(path string, h route.Handler) {
	s.routes.Register(path, h)
}

func (s *Server) Routes() *route.Table {
	return s.routes
}

func (s *Server) Metrics() *metrics.Server {
	return s.metrics
}

// Gatherer 用于暴露指标，外部传入的Registerer不是Gatherer时为nil
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

// InFlight 已经accept但还没处理完的连接数
func (s *Server) InFlight() int64 {
	return s.tasks.Current()
}

func (s *Server) run() {
	defer s.wgLn.Done()
	defer close(s.jobs)

	var tempDelay time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}
		fd, peer, err := accept(s.fd)
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.metrics.AcceptErrors.Inc()
			if tempDelay == 0 {
				tempDelay = minAcceptDelay
			} else {
				tempDelay *= 2
			}
			if tempDelay > maxAcceptDelay {
				tempDelay = maxAcceptDelay
			}
			log.Warn("accept error: %v; retrying in %v", err, tempDelay)
			select {
			case <-time.After(tempDelay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		tempDelay = 0

		c := &conn{id: uuid.NewString(), buf: sock.Adopt(fd, peer)}
		if err = s.prepare(c.buf); err != nil {
			log.Warn("fail to prepare connection from %s: %v", peer, err)
			_ = c.buf.Close()
			continue
		}
		if !s.track(c) {
			_ = c.buf.Close()
			return
		}
		s.metrics.Accepted.Inc()
		s.metrics.QueueDepth.Inc()
		select {
		case s.jobs <- c:
		case <-s.ctx.Done():
			s.metrics.QueueDepth.Dec()
			s.release(c, nil)
			return
		}
	}
}

func (s *Server) prepare(b *sock.Buffer) error {
	if s.opts.ReadTimeout > 0 {
		if err := b.SetReadTimeout(s.opts.ReadTimeout); err != nil {
			return err
		}
	}
	if s.opts.WriteTimeout > 0 {
		if err := b.SetWriteTimeout(s.opts.WriteTimeout); err != nil {
			return err
		}
	}
	return nil
}

// track 关闭后不再接收新连接
func (s *Server) track(c *conn) bool {
	s.mutexCons.Lock()
	defer s.mutexCons.Unlock()
	if s.closed.Load() {
		return false
	}
	s.cons.AddItem(c.buf)
	s.tasks.Incr()
	s.metrics.InFlight.Inc()
	return true
}

func (s *Server) release(c *conn, stream *sock.Stream) {
	var err error
	if stream != nil {
		err = stream.Close()
	} else {
		err = c.buf.Close()
	}
	if err != nil && !errs.IsKind(err, errs.Closed) {
		log.Debug("close connection %s: %v", c.id, err)
	}
	s.mutexCons.Lock()
	s.cons.RemoveItem(c.buf)
	s.mutexCons.Unlock()
	s.metrics.InFlight.Dec()
	s.tasks.Done()
}

func (s *Server) worker() {
	defer s.wgWorkers.Done()
	for c := range s.jobs {
		s.metrics.QueueDepth.Dec()
		s.serve(c)
	}
}

func (s *Server) serve(c *conn) {
	stream := sock.NewStream(c.buf)
	fields := log.Fields{"conn": c.id, "peer": c.buf.Peer().String()}.WithPrefix("server")
	defer s.release(c, stream)
	if s.ctx.Err() != nil {
		return
	}

	path, err := s.opts.Extractor.Extract(stream)
	if err != nil {
		s.metrics.ExtractErrors.Inc()
		fields.Debug("fail to extract routing key: %v", err)
		return
	}
	label := path
	h, err := s.routes.Lookup(path)
	if err != nil {
		s.metrics.RouteNotFound.Inc()
		fields.Warn("%v", err)
		if s.opts.NotFound == nil {
			return
		}
		h, label = s.opts.NotFound, notFoundLabel
	}

	ctx := withConnInfo(s.ctx, ConnInfo{ID: c.id, Peer: c.buf.Peer(), Path: path})
	s.metrics.Dispatched.Inc()
	start := time.Now()
	defer func() {
		s.metrics.HandleDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			s.metrics.HandlerPanics.Inc()
			log.PanicStack(fields.String()+" handler "+path, r)
		}
	}()
	h(ctx, stream)
}

// Close 停止accept，唤醒所有连接并等待Handler返回，可以重复调用
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	stopListener(s.fd)
	s.wgLn.Wait()
	err := closeListener(s.fd)

	s.mutexCons.Lock()
	s.cons.ForEach(func(b *sock.Buffer) {
		err = multierr.Append(err, b.Shutdown())
	})
	s.mutexCons.Unlock()

	s.tasks.Wait()
	s.wgWorkers.Wait()
	log.Info("server %s closed", s.addr)
	return err
}
