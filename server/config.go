package server

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var configValidate = validator.New()

var ErrInvalidConfig = errors.New("invalid server config")

// Config 参考服务的配置
type Config struct {
	// Version 2 返回 d.results 形式的响应，4 返回 value 形式的响应
	Version int `mapstructure:"version" validate:"oneof=2 4"`
	// MaxPageSize 大于 0 时服务端分页，超出部分通过 next link 返回
	MaxPageSize int    `mapstructure:"max_page_size" validate:"gte=0"`
	BasePath    string `mapstructure:"base_path" validate:"required,startswith=/"`

	Logger   *slog.Logger         `mapstructure:"-" validate:"-"`
	Registry *prometheus.Registry `mapstructure:"-" validate:"-"`
}

func DefaultConfig() Config {
	return Config{
		Version:     4,
		MaxPageSize: 0,
		BasePath:    "/odata",
	}
}

func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

func (c Config) withDefaults() Config {
	if len(c.BasePath) > 1 {
		c.BasePath = strings.TrimRight(c.BasePath, "/")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
