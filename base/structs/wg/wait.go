package wg

import (
	"context"
	"sync"
	"time"

	"github.com/YiuTerran/go-sockstream/base/log"
	"go.uber.org/atomic"
)

/**  可以监控还剩多少job的waiter
  *  @author tryao
  *  @date 2022/04/28 17:04
**/

const reportInterval = 3 * time.Second

type WaitGroup struct {
	real    sync.WaitGroup
	cnt     atomic.Int64
	name    string
	warnCnt atomic.Int64
	errCnt  atomic.Int64
}

func NewWaitGroup(name ...string) *WaitGroup {
	wg := &WaitGroup{name: "wg"}
	if len(name) > 0 {
		wg.name = name[0]
	}
	return wg
}

// SetWarnCnt 超过阈值时打warn日志，0表示不检查
func (wg *WaitGroup) SetWarnCnt(warnCnt int64) {
	wg.warnCnt.Store(warnCnt)
}

func (wg *WaitGroup) SetErrorCnt(errCnt int64) {
	wg.errCnt.Store(errCnt)
}

func (wg *WaitGroup) Current() int64 {
	return wg.cnt.Load()
}

func (wg *WaitGroup) Wait() {
	_ = wg.WaitContext(context.Background())
}

// WaitContext 每隔几秒打印一次剩余数量，ctx结束时返回ctx.Err()
func (wg *WaitGroup) WaitContext(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		wg.real.Wait()
		close(ch)
	}()
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.Info("%s waiting %d task to be done...", wg.name, wg.Current())
		}
	}
}

func (wg *WaitGroup) Add(delta int) {
	cur := wg.cnt.Add(int64(delta))
	if threshold := wg.errCnt.Load(); threshold > 0 && cur > threshold {
		log.Error("waitgroup %s wait %d, threshold:%d", wg.name, cur, threshold)
	} else if threshold := wg.warnCnt.Load(); threshold > 0 && cur > threshold {
		log.Warn("waitgroup %s wait %d, threshold:%d", wg.name, cur, threshold)
	}
	wg.real.Add(delta)
}

func (wg *WaitGroup) Incr() {
	wg.Add(1)
}

func (wg *WaitGroup) Done() {
	wg.cnt.Add(-1)
	wg.real.Done()
}
