package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/YiuTerran/go-sockstream/network/route"
	"github.com/YiuTerran/go-sockstream/network/sock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var loopback = ip.MustParseAddress("127.0.0.1")

func openFDs() int {
	entries, err := os.ReadDir("/proc/self/fd")
	Expect(err).NotTo(HaveOccurred())
	return len(entries)
}

func echo(_ context.Context, s *sock.Stream) {
	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	_, _ = s.Write(data)
}

var _ = Describe("Server", func() {
	var (
		srv  *Server
		opts Options
	)

	dial := func() *sock.Stream {
		c, err := sock.Dial(loopback, srv.Addr().Port)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	// request 发送路由键和body后半关闭，读到服务端关闭为止
	request := func(path, body string) string {
		c := dial()
		defer c.Close()
		_, err := c.Printf("%s\n%s", path, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.CloseWrite()).To(Succeed())
		data, err := io.ReadAll(c)
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	BeforeEach(func() {
		opts = Options{Address: ip.Unspecified, Backlog: 128, Workers: 4, QueueSize: 4}
	})

	JustBeforeEach(func() {
		var err error
		srv, err = New(opts)
		Expect(err).NotTo(HaveOccurred())
		srv.RegisterRoute("/echo", echo)
	})

	AfterEach(func() {
		Expect(srv.Close()).To(Succeed())
	})

	It("should bind an ephemeral port", func() {
		Expect(srv.Addr().Port.Value()).NotTo(BeZero())
		Expect(srv.Addr().Addr.IsUnspecified()).To(BeTrue())
	})

	It("should echo the payload after the routing line", func() {
		Expect(request("/echo", "ping")).To(Equal("ping"))
		Eventually(func() float64 { return testutil.ToFloat64(srv.Metrics().Dispatched) }).Should(Equal(1.0))
		Expect(testutil.ToFloat64(srv.Metrics().Accepted)).To(Equal(1.0))
	})

	It("should use the last registered handler", func() {
		srv.RegisterRoute("/who", func(_ context.Context, s *sock.Stream) { _, _ = s.WriteString("h1") })
		srv.RegisterRoute("/who", func(_ context.Context, s *sock.Stream) { _, _ = s.WriteString("h2") })
		Expect(request("/who", "")).To(Equal("h2"))
		Expect(srv.Routes().Paths()).To(Equal([]string{"/echo", "/who"}))
	})

	It("should expose connection info to handlers", func() {
		srv.RegisterRoute("/info", func(ctx context.Context, s *sock.Stream) {
			info, ok := ConnFromContext(ctx)
			if !ok {
				return
			}
			_, _ = s.Printf("%d %s %s", len(info.ID), info.Peer.Addr, info.Path)
		})
		Expect(request("/info", "")).To(Equal("36 127.0.0.1 /info"))
	})

	It("should close connections without a route", func() {
		Expect(request("/missing", "")).To(BeEmpty())
		Eventually(func() float64 { return testutil.ToFloat64(srv.Metrics().RouteNotFound) }).Should(Equal(1.0))
		Expect(testutil.ToFloat64(srv.Metrics().Dispatched)).To(BeZero())
	})

	It("should count connections that never send a routing key", func() {
		c := dial()
		Expect(c.CloseWrite()).To(Succeed())
		data, err := io.ReadAll(c)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeEmpty())
		Expect(c.Close()).To(Succeed())
		Eventually(func() float64 { return testutil.ToFloat64(srv.Metrics().ExtractErrors) }).Should(Equal(1.0))
	})

	It("should survive a panicking handler", func() {
		srv.RegisterRoute("/panic", func(context.Context, *sock.Stream) { panic("boom") })
		Expect(request("/panic", "")).To(BeEmpty())
		Eventually(func() float64 { return testutil.ToFloat64(srv.Metrics().HandlerPanics) }).Should(Equal(1.0))
		Expect(request("/echo", "still alive")).To(Equal("still alive"))
	})

	It("should handle many concurrent connections exactly once", func() {
		var counter atomic.Int32
		srv.RegisterRoute("/count", func(_ context.Context, s *sock.Stream) {
			counter.Inc()
			_, _ = s.WriteString("ok")
		})
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(request("/count", "")).To(Equal("ok"))
			}()
		}
		wg.Wait()
		Expect(counter.Load()).To(BeEquivalentTo(100))
		Eventually(srv.InFlight).Should(BeZero())
		Expect(testutil.ToFloat64(srv.Metrics().Accepted)).To(Equal(100.0))
	})

	It("should reject a port that is already bound without leaking descriptors", func() {
		before := openFDs()
		for i := 0; i < 10; i++ {
			s, err := New(Options{Port: srv.Addr().Port.Value()})
			Expect(s).To(BeNil())
			Expect(errs.IsKind(err, errs.BindError)).To(BeTrue(), fmt.Sprint(err))
			Expect(errors.Is(err, unix.EADDRINUSE)).To(BeTrue())
		}
		Expect(openFDs()).To(Equal(before))
	})

	It("should close the socket when listening fails", func() {
		before := openFDs()
		_, _, err := listen(ip.Endpoint{Addr: ip.MustParseAddress("192.0.2.1")}, 16)
		Expect(errs.IsKind(err, errs.BindError)).To(BeTrue(), fmt.Sprint(err))
		Expect(errors.Is(err, unix.EADDRNOTAVAIL)).To(BeTrue())
		Expect(openFDs()).To(Equal(before))
	})

	Context("with a NotFound handler", func() {
		BeforeEach(func() {
			opts.NotFound = func(ctx context.Context, s *sock.Stream) {
				info, _ := ConnFromContext(ctx)
				_, _ = s.Printf("404 %s", info.Path)
			}
		})

		It("should fall back to it", func() {
			Expect(request("/nowhere", "")).To(Equal("404 /nowhere"))
			Expect(testutil.ToFloat64(srv.Metrics().RouteNotFound)).To(Equal(1.0))
		})
	})

	Context("with an HTTP extractor", func() {
		BeforeEach(func() {
			opts.Extractor = route.HTTPExtractor{}
		})

		It("should route by request path", func() {
			srv.RegisterRoute("/index.html", func(_ context.Context, s *sock.Stream) {
				for {
					line, err := s.ReadLine()
					if err != nil || line == "" {
						break
					}
				}
				_, _ = s.WriteString("HTTP/1.0 200 OK\r\n\r\nhello")
			})
			c := dial()
			defer c.Close()
			_, err := c.Printf("GET /index.html?x=1 HTTP/1.0\r\nHost: localhost\r\n\r\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Flush()).To(Succeed())
			status, err := c.ReadLine()
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal("HTTP/1.0 200 OK"))
		})
	})

	Context("with an accept rate limit", func() {
		BeforeEach(func() {
			opts.AcceptRate = 1000
			opts.AcceptBurst = 10
		})

		It("should still serve", func() {
			Expect(request("/echo", "limited")).To(Equal("limited"))
		})
	})

	Context("when accept fails", func() {
		// lowestFreeFD 下一个新描述符会用到的编号
		lowestFreeFD := func() uint64 {
			fd, err := unix.Dup(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(unix.Close(fd)).To(Succeed())
			return uint64(fd)
		}

		It("should back off and keep accepting", func() {
			var orig unix.Rlimit
			Expect(unix.Getrlimit(unix.RLIMIT_NOFILE, &orig)).To(Succeed())
			restore := func() { _ = unix.Setrlimit(unix.RLIMIT_NOFILE, &orig) }
			DeferCleanup(restore)

			c := dial()
			defer c.Close()
			// 客户端已经占了一个描述符，accept再要一个就会EMFILE
			limited := unix.Rlimit{Cur: lowestFreeFD(), Max: orig.Max}
			Expect(unix.Setrlimit(unix.RLIMIT_NOFILE, &limited)).To(Succeed())
			Eventually(func() float64 { return testutil.ToFloat64(srv.Metrics().AcceptErrors) }).
				Should(BeNumerically(">", 0))
			Expect(testutil.ToFloat64(srv.Metrics().Accepted)).To(BeZero())
			restore()

			_, err := c.Printf("/echo\nping")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.CloseWrite()).To(Succeed())
			data, err := io.ReadAll(c)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("ping"))
			Expect(testutil.ToFloat64(srv.Metrics().Accepted)).To(Equal(1.0))
		})
	})

	Context("when closing", func() {
		It("should unblock handlers waiting for input", func() {
			started := make(chan struct{})
			finished := make(chan error, 1)
			srv.RegisterRoute("/block", func(_ context.Context, s *sock.Stream) {
				close(started)
				_, err := s.ReadByte()
				finished <- err
			})
			c := dial()
			defer c.Close()
			_, err := c.Printf("/block\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Flush()).To(Succeed())
			Eventually(started).Should(BeClosed())

			done := make(chan error, 1)
			go func() { done <- srv.Close() }()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Expect(finished).To(Receive(HaveOccurred()))
		})

		It("should be idempotent", func() {
			Expect(srv.Close()).To(Succeed())
			Expect(srv.Close()).To(Succeed())
		})

		It("should not leak descriptors", func() {
			Expect(request("/echo", "x")).To(Equal("x"))
			Expect(srv.Close()).To(Succeed())
			before := openFDs()
			s, err := New(opts)
			Expect(err).NotTo(HaveOccurred())
			srv = s
			srv.RegisterRoute("/echo", echo)
			Expect(request("/echo", "y")).To(Equal("y"))
			Expect(srv.Close()).To(Succeed())
			Eventually(openFDs).Should(Equal(before))
		})
	})
})
