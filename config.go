package odataview

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"odataview/common"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	DefaultDebounceDelay = 100 * time.Millisecond
	DefaultWindowDelay   = 50 * time.Millisecond
	DefaultWindowSize    = 100
	DefaultMaxRetries    = 1
)

var configValidate = validator.New()

// Config 描述一个绑定到 service + table 的视图
type Config struct {
	ServiceURL string `validate:"required,url"`
	Table      string `validate:"required"`

	Fields    []string
	Keys      []string
	DataTypes map[string]common.DataType

	SortOnServer     bool
	PageOnServer     bool
	FilterOnServer   bool
	FilterDefinition string
	Search           string
	SortDescriptions []common.SortDescription
	PageSize         int `validate:"gte=0"`

	// 0 表示首次读取前探测 $metadata
	ODataVersion   common.Version `validate:"gte=0,lte=4"`
	InferDataTypes bool
	RequestHeaders map[string]string

	DebounceDelay time.Duration `validate:"gte=0"`
	WindowDelay   time.Duration `validate:"gte=0"`
	MaxRetries    int           `validate:"gte=0"`
	RetryDelay    time.Duration `validate:"gte=0"`

	Client       common.HTTPClient `validate:"-"`
	VersionCache *VersionCache     `validate:"-"`
	Logger       *slog.Logger      `validate:"-"`
	Metrics      *Metrics          `validate:"-"`

	OnLoading func()
	OnLoaded  func()
	// OnError 返回 true 表示已处理：不再重试，也不再向调用方返回错误
	OnError func(err *common.RequestError) bool
}

func NewConfig(serviceURL, table string) Config {
	return Config{
		ServiceURL:     serviceURL,
		Table:          table,
		SortOnServer:   true,
		PageOnServer:   true,
		FilterOnServer: true,
		InferDataTypes: true,
		DebounceDelay:  DefaultDebounceDelay,
		WindowDelay:    DefaultWindowDelay,
		MaxRetries:     DefaultMaxRetries,
	}
}

// Validate returns an error wrapping common.ErrInvalidConfig.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return errors.Wrap(common.ErrInvalidConfig, err.Error())
	}
	for field, dt := range c.DataTypes {
		if _, err := common.ParseDataType(string(dt)); err != nil {
			return errors.Wrapf(common.ErrInvalidConfig, "data type of %s: %v", field, err)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.VersionCache == nil {
		c.VersionCache = NewVersionCache()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
