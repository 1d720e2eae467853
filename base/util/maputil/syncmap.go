package maputil

import "sync"

/**  sync.Map没有Len，只能遍历
  *  @author tryao
  *  @date 2022/03/18 14:18
**/

func SyncMapLen(m *sync.Map) int {
	size := 0
	m.Range(func(_, _ any) bool {
		size++
		return true
	})
	return size
}
