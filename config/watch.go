package config

import (
	"sync"

	"github.com/YiuTerran/go-sockstream/base/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher 默认情况下viper读入配置并不是并发安全的，这里简单的包装一下
// 文件变化时重新解析，解析失败则保留旧配置
type Watcher struct {
	lock sync.RWMutex
	cfg  *Config
}

func (w *Watcher) Load() *Config {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return w.cfg
}

func (w *Watcher) store(cfg *Config) {
	w.lock.Lock()
	w.cfg = cfg
	w.lock.Unlock()
}

// watchLogLevel 日志等级可以热更新，其他配置需要重启
func watchLogLevel(cfg *Config) {
	log.ChangeLogLevel(log.ParseLevel(cfg.Log.Level))
}

// Watch 读入path并监听变化，回调在每次成功解析后执行
func Watch(path string, cbs ...func(*Config)) (*Watcher, error) {
	vp := newViper()
	vp.SetConfigFile(path)
	if err := vp.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg, err := decode(vp)
	if err != nil {
		return nil, err
	}
	w := &Watcher{cfg: cfg}
	cbs = append(cbs, watchLogLevel)
	vp.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(vp)
		if err != nil {
			log.Error("fail to reload config %s: %v", e.Name, err)
			return
		}
		for _, cb := range cbs {
			cb(cfg)
		}
		//仅当解析成功才替换掉
		w.store(cfg)
	})
	vp.WatchConfig()
	return w, nil
}
