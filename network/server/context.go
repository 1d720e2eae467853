package server

import (
	"context"

	"github.com/YiuTerran/go-sockstream/network/ip"
)

// ConnInfo Handler通过ConnFromContext拿到当前连接的信息
type ConnInfo struct {
	// ID 每个连接唯一，日志里的conn字段
	ID   string
	Peer ip.Endpoint
	// Path 提取出的路由键，NotFound时也是原始值
	Path string
}

type connInfoKey struct{}

func withConnInfo(ctx context.Context, info ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

func ConnFromContext(ctx context.Context) (ConnInfo, bool) {
	info, ok := ctx.Value(connInfoKey{}).(ConnInfo)
	return info, ok
}
