package constraint

// 泛型容器用到的类型约束，key需要排序时使用Ordered

type Signed interface {
	~int8 | ~int16 | ~int | ~int32 | ~int64
}

type Unsigned interface {
	~uint8 | ~uint16 | ~uint | ~uint32 | ~uint64 | ~uintptr
}

type Integer interface {
	Signed | Unsigned
}

type Float interface {
	~float32 | ~float64
}

type Ordered interface {
	Integer | Float | ~string
}
