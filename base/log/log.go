package log

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	Level   string
	OutType int
)

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"

	infoFileOutName  = "service"
	errorFileOutName = "error"
	trackFileOutName = "track"
	panicFileOutName = "panic"

	// ConsoleOut 控制台输出
	ConsoleOut OutType = 1
	// InfoFileOut 一般日志
	InfoFileOut OutType = 2
	// ErrorFileOut 错误日志
	ErrorFileOut OutType = 4
	// TrackFileOut json日志，连接级别的事件写在这里
	TrackFileOut OutType = 8

	NormalOut          = InfoFileOut | ErrorFileOut
	NormalOutWithTrack = NormalOut | TrackFileOut
)

var (
	// Builder 初始化Logger的builder
	Builder      = &builder{logger: &loggerProxy{}}
	levelMapping = map[Level]zapcore.Level{
		LevelDebug: zap.DebugLevel,
		LevelInfo:  zap.InfoLevel,
		LevelWarn:  zap.WarnLevel,
		LevelError: zap.ErrorLevel,
	}
	aliasMap = map[string]OutType{
		"console": ConsoleOut,
		"file":    NormalOut,
		"track":   TrackFileOut,
	}
	proxy *loggerProxy
	once  sync.Once
)

// OutTypeAlias 文本配置转输出类型，用|分割，如 "console|track"
func OutTypeAlias(name string) OutType {
	names := strings.Split(strings.ToLower(name), "|")
	var r OutType
	for _, s := range names {
		r |= aliasMap[strings.TrimSpace(s)]
	}
	return lo.Ternary(r == 0, ConsoleOut, r)
}

// ParseLevel 无法识别的等级按debug处理
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelMapping[l]; ok {
		return l
	}
	return LevelDebug
}

type loggerProxy struct {
	name         string
	path         string
	level        Level
	out          OutType
	maxSize      int //单位Mb，默认100
	maxAge       int //单位天，默认无限
	maxBackUps   int
	enableRotate bool

	zapLevel zap.AtomicLevel
	logger   atomic.Value
	dLogger  *zap.SugaredLogger
	nLogger  *zap.SugaredLogger
	tracker  *zap.Logger
}

func (lp *loggerProxy) changeLogLevel(level Level, force bool) {
	if !force && levelMapping[level] == lp.zapLevel.Level() {
		return
	}
	if level == LevelDebug {
		lp.zapLevel.SetLevel(zapcore.DebugLevel)
		lp.logger.Store(lp.dLogger)
	} else {
		lp.zapLevel.SetLevel(levelMapping[level])
		lp.logger.Store(lp.nLogger)
	}
}

// ChangeLogLevel 运行时切换日志等级
func ChangeLogLevel(level Level) {
	proxy.changeLogLevel(level, false)
}

func IsDebugEnabled() bool {
	return proxy.zapLevel.Enabled(zapcore.DebugLevel)
}

type builder struct {
	logger *loggerProxy
}

func (b *builder) Name(name string) *builder {
	b.logger.name = name
	return b
}

// Path 日志文件目录
func (b *builder) Path(path string) *builder {
	b.logger.path = path
	return b
}

func (b *builder) Level(level Level) *builder {
	b.logger.level = level
	return b
}

func (b *builder) OutType(out OutType) *builder {
	if out <= 0 {
		out = ConsoleOut
	}
	b.logger.out = out
	return b
}

func (b *builder) MaxSize(size int) *builder {
	b.logger.maxSize = size
	return b
}

func (b *builder) MaxAge(age int) *builder {
	b.logger.maxAge = age
	return b
}

func (b *builder) MaxBackUps(count int) *builder {
	b.logger.maxBackUps = count
	return b
}

func (b *builder) EnableRotate(enable bool) *builder {
	b.logger.enableRotate = enable
	return b
}

func getTrackEncodeConf() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "@timestamp"
	encoderCfg.LevelKey = "log.level"
	encoderCfg.MessageKey = "message"
	encoderCfg.EncodeTime = timeEncoder
	return encoderCfg
}

func (b *builder) fileName(suffix string) string {
	if suffix == infoFileOutName {
		return lo.Ternary(b.logger.name == "", infoFileOutName, b.logger.name) + ".log"
	}
	return lo.Ternary(b.logger.name == "", suffix, b.logger.name+"-"+suffix) + ".log"
}

// Build 只会生效一次
func (b *builder) Build() {
	once.Do(func() {
		p := b.logger
		if p.out == 0 {
			p.out = ConsoleOut
		}
		if p.out&NormalOutWithTrack > 0 {
			if p.path == "" {
				p.path = "./log"
			}
			if !exists(p.path) && os.MkdirAll(p.path, 0755) != nil {
				panic("fail to create log directory")
			}
			// panic日志重定向到文件，不然都会打到stderr里
			if err := redirectStderr(filepath.Join(p.path, b.fileName(panicFileOutName))); err != nil {
				panic("fail to redirect panic log to file:" + err.Error())
			}
		}
		if p.level == "" {
			p.level = LevelDebug
		}
		p.zapLevel = zap.NewAtomicLevelAt(levelMapping[p.level])
		encoderCfg := getTrackEncodeConf()
		if p.out&TrackFileOut > 0 {
			p.tracker = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg),
				zapcore.AddSync(b.getWriter(b.fileName(trackFileOutName))), zap.DebugLevel))
		} else {
			p.tracker = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg),
				zapcore.AddSync(os.Stdout), zap.DebugLevel))
		}
		hp := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.WarnLevel
		})
		all := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return p.zapLevel.Enabled(lvl)
		})
		cores := make([]zapcore.Core, 0, 3)
		encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		if p.out&ConsoleOut > 0 {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), all))
		}
		if p.out&InfoFileOut > 0 {
			cores = append(cores, zapcore.NewCore(encoder,
				zapcore.AddSync(b.getWriter(b.fileName(infoFileOutName))), all))
		}
		if p.out&ErrorFileOut > 0 {
			cores = append(cores, zapcore.NewCore(encoder,
				zapcore.AddSync(b.getWriter(b.fileName(errorFileOutName))), hp))
		}
		lg := zap.New(zapcore.NewTee(cores...))
		p.nLogger = lg.Sugar()
		// debug模式下打印caller
		p.dLogger = lg.WithOptions(zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
		p.changeLogLevel(p.level, true)
		proxy = p
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		return os.IsExist(err)
	}
	return true
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z"))
}

func (b *builder) getWriter(name string) io.Writer {
	fullName := filepath.Join(b.logger.path, name)
	if !b.logger.enableRotate {
		f, err := os.OpenFile(fullName, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			panic("fail to open log file")
		}
		return f
	}
	return &lumberjack.Logger{
		Filename:   fullName,
		MaxSize:    b.logger.maxSize,
		MaxAge:     b.logger.maxAge,
		MaxBackups: b.logger.maxBackUps,
	}
}

func current() *zap.SugaredLogger {
	return proxy.logger.Load().(*zap.SugaredLogger)
}

// Debug 调试模式下打印caller
func Debug(format string, a ...any) {
	current().Debugf(format, a...)
}

func Info(format string, a ...any) {
	current().Infof(format, a...)
}

func Warn(format string, a ...any) {
	current().Warnf(format, a...)
}

func Error(format string, a ...any) {
	current().Errorf(format, a...)
}

func Fatal(format string, a ...any) {
	current().Fatalf(format, a...)
}

// JsonWith 设置默认的field，如连接id
func JsonWith(fields ...zap.Field) *zap.Logger {
	return proxy.tracker.With(fields...)
}

func JsonInfo(msg string, fields ...zap.Field) {
	proxy.tracker.Info(msg, fields...)
}

func JsonWarn(msg string, fields ...zap.Field) {
	proxy.tracker.Warn(msg, fields...)
}

// PanicStack 从panic中恢复并打印日志
// 注意recover必须在当前函数调用
func PanicStack(prefix string, r any) {
	buf := make([]byte, 4096)
	l := runtime.Stack(buf, false)
	Error("%s: %v-> %s", prefix, r, buf[:l])
}

func Flush() {
	if proxy.dLogger != nil {
		_ = proxy.dLogger.Sync()
	}
	if proxy.nLogger != nil {
		_ = proxy.nLogger.Sync()
	}
	if proxy.tracker != nil {
		_ = proxy.tracker.Sync()
	}
}

func init() {
	// 默认仅输出到控制台，方便测试
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	proxy = &loggerProxy{}
	proxy.zapLevel = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	all := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return proxy.zapLevel.Enabled(lvl)
	})
	lg := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), all))
	proxy.nLogger = lg.Sugar()
	proxy.dLogger = lg.WithOptions(zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	proxy.tracker = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(getTrackEncodeConf()),
		zapcore.AddSync(os.Stdout), zap.DebugLevel))
	proxy.logger.Store(proxy.dLogger)
}
