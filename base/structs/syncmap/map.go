package syncmap

/**  泛型包装的sync.Map
  *  适合写少读多的场景，如启动时注册、运行时只查询的路由表
**/

import (
	"sort"
	"sync"

	"github.com/YiuTerran/go-sockstream/base/constraint"
	"github.com/YiuTerran/go-sockstream/base/util/maputil"
)

// Map 并发安全，零值可用，使用后不能复制
type Map[K constraint.Ordered, V any] struct {
	inner sync.Map
}

// Load 不存在时返回零值和false
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	val, ok := m.inner.Load(key)
	if ok {
		return val.(V), true
	}
	return value, false
}

// Store 写入，key已存在时直接覆盖
func (m *Map[K, V]) Store(key K, value V) {
	m.inner.Store(key, value)
}

// Swap 覆盖写入，返回旧值以及是否存在旧值
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	val, loaded := m.inner.Swap(key, value)
	if loaded {
		return val.(V), true
	}
	return previous, false
}

func (m *Map[K, V]) Delete(key K) {
	m.inner.Delete(key)
}

// Range 不保证是一致的快照，f返回false时停止
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.inner.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Keys 升序
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0)
	m.Range(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

func (m *Map[K, V]) Size() int {
	return maputil.SyncMapLen(&m.inner)
}
