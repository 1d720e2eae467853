package server

import (
	"github.com/YiuTerran/go-sockstream/config"
	"github.com/YiuTerran/go-sockstream/network/route"
)

// OptionsFromConfig cfg需要先Validate
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Address:      cfg.ListenAddress(),
		Port:         uint16(cfg.Listen.Port),
		Backlog:      cfg.Listen.Backlog,
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.Queue,
		ReadTimeout:  cfg.Timeout.Read,
		WriteTimeout: cfg.Timeout.Write,
	}
}

// NewFromConfig extractor为nil时按行提取路由
func NewFromConfig(cfg *config.Config, extractor route.PathExtractor) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := OptionsFromConfig(cfg)
	opts.Extractor = extractor
	return New(opts)
}
