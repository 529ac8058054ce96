package odataview

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"odataview/common"

	"golang.org/x/sync/singleflight"
)

const probeTimeout = 30 * time.Second

// 根元素上的 Version="x.y"；子元素的 m:DataServiceVersion 不会匹配
var rxVersion = regexp.MustCompile(`<[A-Za-z][^>]*?\sVersion\s*=\s*"(\d+)(?:\.\d+)?"`)

// VersionCache 按 $metadata URL 缓存探测到的协议版本，可在多个视图间共享
type VersionCache struct {
	lock     sync.RWMutex
	versions map[string]common.Version
	flight   singleflight.Group
}

func NewVersionCache() *VersionCache {
	return &VersionCache{
		versions: map[string]common.Version{},
	}
}

func (c *VersionCache) Get(metadataURL string) (common.Version, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	v, ok := c.versions[metadataURL]
	return v, ok
}

func (c *VersionCache) Set(metadataURL string, v common.Version) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.versions[metadataURL] = v
}

func MetadataURL(serviceURL string) string {
	return strings.TrimRight(serviceURL, "/") + "/$metadata"
}

// ParseVersion 从 $metadata 文档中提取协议版本，结果限制在 1..4
func ParseVersion(metadata []byte) (common.Version, bool) {
	m := rxVersion.FindSubmatch(metadata)
	if m == nil {
		return common.VersionMax, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return common.VersionMax, false
	}
	v := common.Version(n)
	if v < common.VersionMin {
		v = common.VersionMin
	}
	if v > common.VersionMax {
		v = common.VersionMax
	}
	return v, true
}

// Prober 探测 service 的协议版本；失败时不报错，按 4 处理
type Prober struct {
	transport *transport
	cache     *VersionCache
	logger    *slog.Logger
	metrics   *Metrics
}

func newProber(t *transport, cache *VersionCache, logger *slog.Logger, metrics *Metrics) *Prober {
	return &Prober{
		transport: t,
		cache:     cache,
		logger:    logger,
		metrics:   metrics,
	}
}

// NewProber builds a standalone prober; probe requests are never retried.
func NewProber(client common.HTTPClient, cache *VersionCache, logger *slog.Logger, metrics *Metrics) *Prober {
	cfg := Config{Client: client, VersionCache: cache, Logger: logger, Metrics: metrics}.withDefaults()
	return newProber(newTransport(cfg), cfg.VersionCache, cfg.Logger, metrics)
}

func (p *Prober) Version(ctx context.Context, serviceURL string) common.Version {
	metadataURL := MetadataURL(serviceURL)
	if v, ok := p.cache.Get(metadataURL); ok {
		p.metrics.recordProbe("cached")
		return v
	}
	// 探测请求由所有等待者共享，不能跟随第一个调用方的 ctx 取消
	probeCtx := context.WithoutCancel(ctx)
	ch := p.cache.flight.DoChan(metadataURL, func() (interface{}, error) {
		if v, ok := p.cache.Get(metadataURL); ok {
			return v, nil
		}
		ctx, cancel := context.WithTimeout(probeCtx, probeTimeout)
		defer cancel()
		v, final := p.probe(ctx, metadataURL)
		if final {
			p.cache.Set(metadataURL, v)
		}
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val.(common.Version)
	case <-ctx.Done():
		// 本次按 4 处理，不写入缓存
		p.metrics.recordProbe("default")
		p.logger.Warn("metadata probe abandoned, assuming version 4",
			slog.String("url", metadataURL),
			slog.Any("error", ctx.Err()))
		return common.VersionMax
	}
}

// probe 返回探测结果；超时等不确定的失败 final=false，不会被缓存
func (p *Prober) probe(ctx context.Context, metadataURL string) (v common.Version, final bool) {
	data, err := p.transport.do(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		p.metrics.recordProbe("default")
		p.logger.Warn("metadata probe failed, assuming version 4",
			slog.String("url", metadataURL),
			slog.Any("error", err))
		return common.VersionMax, ctx.Err() == nil
	}
	v, ok := ParseVersion(data)
	if !ok {
		p.metrics.recordProbe("default")
		p.logger.Warn("metadata has no version, assuming version 4", slog.String("url", metadataURL))
		return v, true
	}
	p.metrics.recordProbe("detected")
	p.logger.Debug("odata version detected", slog.String("url", metadataURL), slog.Int("version", int(v)))
	return v, true
}
