package main

/**  用Stream发一个最简单的HTTP/1.0请求，按行打印响应
  *  fetch --addr 127.0.0.1 --port 80 --path /
**/

import (
	"fmt"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/YiuTerran/go-sockstream/network/sock"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1", "ip address, no hostname")
	port := pflag.Uint16P("port", "p", 80, "port")
	path := pflag.String("path", "/", "request path")
	timeout := pflag.Duration("timeout", 0, "read timeout, 0 means none")
	pflag.Parse()
	log.ChangeLogLevel(log.LevelInfo)

	a, err := ip.ParseAddress(*addr)
	if err != nil {
		log.Fatal("%v", err)
	}
	s, err := sock.Dial(a, ip.NewPort(*port), sock.ReadTimeout(*timeout))
	if err != nil {
		log.Fatal("%v", err)
	}
	defer s.Close()

	_, _ = s.Printf("GET %s HTTP/1.0\r\nHost: %s\r\nConnection: close\r\n\r\n", *path, *addr)
	if err = s.Flush(); err != nil {
		log.Fatal("fail to send request: %v", err)
	}
	for s.Good() {
		line, err := s.ReadLine()
		if err != nil {
			break
		}
		fmt.Println(line)
	}
	if err = s.Err(); err != nil {
		log.Error("read response: %v", err)
	}
}
