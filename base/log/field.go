package log

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Fields 上下文结构，方便在组件之间传递连接信息
// 非线程安全，派生时总是复制
type Fields map[string]any

const (
	prefixKey = "__prefix__"
)

// String key按字典序输出，保证同一个连接的日志格式稳定
func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		if k != prefixKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	str := make([]string, 0, len(keys)+1)
	if prefix := f.Prefix(); prefix != "" {
		str = append(str, fmt.Sprintf("[%v]", prefix))
	}
	for _, k := range keys {
		str = append(str, fmt.Sprintf("%s=%+v", k, f[k]))
	}
	return strings.Join(str, " ")
}

func (f Fields) prepend(format string) string {
	return f.String() + ", " + format
}

func (f Fields) WithPrefix(prefix string) Fields {
	return MergeFields(f, Fields{prefixKey: prefix})
}

// MergeFields 合并，结果不影响原来的数据
func MergeFields(f Fields, fields ...Fields) Fields {
	all := make(Fields, len(f))
	for k, v := range f {
		all[k] = v
	}
	for _, field := range fields {
		for k, v := range field {
			all[k] = v
		}
	}
	return all
}

func (f Fields) WithFields(fields ...Fields) Fields {
	return MergeFields(f, fields...)
}

func (f Fields) Prefix() string {
	if prefix, ok := f[prefixKey]; ok {
		return prefix.(string)
	}
	return ""
}

// Zap 转成track日志用的zap field
func (f Fields) Zap() []zap.Field {
	r := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if k == prefixKey {
			r = append(r, zap.Any("component", v))
			continue
		}
		r = append(r, zap.Any(k, v))
	}
	return r
}

func (f Fields) Debug(format string, a ...any) {
	Debug(f.prepend(format), a...)
}

func (f Fields) Info(format string, a ...any) {
	Info(f.prepend(format), a...)
}

func (f Fields) Warn(format string, a ...any) {
	Warn(f.prepend(format), a...)
}

func (f Fields) Error(format string, a ...any) {
	Error(f.prepend(format), a...)
}

// Track 同时写一条json日志
func (f Fields) Track(msg string) {
	JsonInfo(msg, f.Zap()...)
}
