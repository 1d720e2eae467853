package main

/**  按行回显的服务，演示配置、路由和指标
  *  printf '/echo\nhello\n' | nc localhost 8080
**/

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/base/util/debugutil"
	"github.com/YiuTerran/go-sockstream/config"
	"github.com/YiuTerran/go-sockstream/network/metrics"
	"github.com/YiuTerran/go-sockstream/network/server"
	"github.com/YiuTerran/go-sockstream/network/sock"
	"github.com/spf13/pflag"
)

func echoLines(ctx context.Context, s *sock.Stream) {
	info, _ := server.ConnFromContext(ctx)
	for s.Good() {
		line, err := s.ReadLine()
		if err != nil {
			break
		}
		_, _ = s.Printf("%s\n", line)
		if err = s.Flush(); err != nil {
			break
		}
	}
	log.Debug("echo %s from %s done", info.ID, info.Peer)
}

func upper(_ context.Context, s *sock.Stream) {
	for s.Good() {
		line, err := s.ReadLine()
		if err != nil {
			return
		}
		_, _ = s.WriteString(strings.ToUpper(line) + "\n")
		_ = s.Flush()
	}
}

// loadConfig 有配置文件时监听变化，日志等级可以热更新
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load("")
	}
	w, err := config.Watch(path, func(cfg *config.Config) {
		log.Info("config %s reloaded, log level: %s", path, cfg.Log.Level)
	})
	if err != nil {
		return nil, err
	}
	return w.Load(), nil
}

func main() {
	path := pflag.StringP("config", "c", "", "config file, SOCKSTREAM_* env overrides it")
	pflag.Parse()

	cfg, err := loadConfig(*path)
	if err != nil {
		log.Fatal("fail to load config: %v", err)
	}
	cfg.BuildLogger()
	defer log.Flush()

	srv, err := server.NewFromConfig(cfg, nil)
	if err != nil {
		log.Fatal("fail to start server: %v", err)
	}
	srv.RegisterRoute("/echo", echoLines)
	srv.RegisterRoute("/upper", upper)

	var ds *http.Server
	if cfg.Metrics.Address != "" {
		ds = debugutil.NewServer(cfg.Metrics.Address, metrics.Mount(srv.Gatherer()))
		debugutil.Launch(ds)
	}

	closeChannel := make(chan os.Signal, 1)
	signal.Notify(closeChannel, os.Interrupt, syscall.SIGTERM)
	<-closeChannel
	signal.Stop(closeChannel)

	if ds != nil {
		_ = ds.Close()
	}
	if err = srv.Close(); err != nil {
		log.Warn("close server: %v", err)
	}
}
