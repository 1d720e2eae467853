package route

import (
	"context"
	"strconv"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/YiuTerran/go-sockstream/base/structs/errs"
	"github.com/YiuTerran/go-sockstream/base/structs/syncmap"
	"github.com/YiuTerran/go-sockstream/network/sock"
)

// Handler 拿到流的独占所有权，负责读请求、写响应
// 返回后调用方会关闭流；ctx在服务关闭时取消
type Handler func(ctx context.Context, s *sock.Stream)

// Table 路由表：路由键 -> Handler
// 注册一般发生在启动时，查询发生在每个连接上，所以用读多写少的sync.Map
type Table struct {
	routes syncmap.Map[string, Handler]
}

func NewTable() *Table {
	return &Table{}
}

// Register 插入或覆盖，后注册的生效
func (t *Table) Register(path string, h Handler) {
	if h == nil {
		panic("handler of route " + strconv.Quote(path) + " must not be nil")
	}
	if _, replaced := t.routes.Swap(path, h); replaced {
		log.Debug("route %q overwritten", path)
	}
}

// Lookup 找不到时返回RouteNotFound
func (t *Table) Lookup(path string) (Handler, error) {
	h, ok := t.routes.Load(path)
	if !ok {
		return nil, errs.New(errs.RouteNotFound, "lookup", "no handler for %s", strconv.Quote(path))
	}
	return h, nil
}

// Paths 已注册的路由，升序
func (t *Table) Paths() []string {
	return t.routes.Keys()
}

func (t *Table) Len() int {
	return t.routes.Size()
}
