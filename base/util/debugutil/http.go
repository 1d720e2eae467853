package debugutil

import (
	"errors"
	"net/http"
	"net/http/pprof"

	"github.com/YiuTerran/go-sockstream/base/log"
)

//专门用来debug的不对外暴露的API，pprof和指标挂在同一个端口

// Handle adds standard pprof handlers to mux.
func Handle(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// NewServer pprof加上cbs里注册的handler
func NewServer(addr string, cbs ...func(mux *http.ServeMux)) *http.Server {
	mux := http.NewServeMux()
	Handle(mux)
	for _, cb := range cbs {
		cb(mux)
	}
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

// Launch 后台运行，监听失败只打日志，不影响主服务
func Launch(srv *http.Server) {
	go func() {
		log.Info("debug http server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("debug http server %s: %v", srv.Addr, err)
		}
	}()
}
