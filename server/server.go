package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"odataview/common"
	"odataview/utils"
)

// Server 是一个最小的 OData 服务：GET/POST/PUT/DELETE entity set 以及 $metadata
type Server struct {
	config   Config
	store    *SqliteStore
	logger   *slog.Logger
	lock     sync.RWMutex
	sets     map[string]*EntitySet
	requests *prometheus.CounterVec
	engine   *gin.Engine
}

// New 创建服务并加载 store 中已有的 entity set
func New(ctx context.Context, store *SqliteStore, config Config) (s *Server, err error) {
	if err = config.Validate(); err != nil {
		return
	}
	config = config.withDefaults()
	s = &Server{
		config: config,
		store:  store,
		logger: config.Logger,
		sets:   map[string]*EntitySet{},
	}
	list, err := store.ListEntitySets(ctx)
	if err != nil {
		return
	}
	for _, es := range list {
		s.sets[es.Name()] = es
	}
	if config.Registry != nil {
		s.requests = promauto.With(config.Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "odataview_server_requests_total",
			Help: "Requests served by the reference OData service",
		}, []string{"method", "code"})
	}
	s.engine = s.routes()
	return
}

// Register 创建（或打开）一个 entity set 并开始对外提供
func (s *Server) Register(ctx context.Context, def EntitySetDef) (es *EntitySet, err error) {
	es, err = s.store.CreateEntitySet(ctx, def)
	if err != nil {
		return
	}
	s.lock.Lock()
	s.sets[es.Name()] = es
	s.lock.Unlock()
	return
}

func (s *Server) EntitySet(name string) (*EntitySet, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	es, ok := s.sets[name]
	return es, ok
}

func (s *Server) entitySets() []*EntitySet {
	s.lock.RLock()
	defer s.lock.RUnlock()
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]*EntitySet, 0, len(names))
	for _, name := range names {
		list = append(list, s.sets[name])
	}
	return list
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	if s.config.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})))
	}
	g := r.Group(s.config.BasePath)
	g.GET("/:segment", s.handleGet)
	g.POST("/:segment", s.handlePost)
	g.PUT("/:segment", s.handlePut)
	g.PATCH("/:segment", s.handlePut)
	g.DELETE("/:segment", s.handleDelete)
	return r
}

// observe 记录请求日志和计数
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		s.logger.Debug("odata request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start))
		if s.requests != nil {
			s.requests.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		}
	}
}

// segment 是 URL 最后一段，例如 Products 或 Products(Id=1)
type segment struct {
	set    *EntitySet
	key    map[string]interface{}
	hasKey bool
}

func (s *Server) parseSegment(raw string) (seg segment, err error) {
	name := raw
	predicate := ""
	if idx := strings.IndexByte(raw, '('); idx >= 0 {
		if !strings.HasSuffix(raw, ")") {
			err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid key predicate %q", raw)
			return
		}
		name, predicate = raw[:idx], raw[idx+1:len(raw)-1]
		seg.hasKey = true
	}
	set, ok := s.EntitySet(name)
	if !ok {
		err = errors.Wrap(ErrEntitySetNotFound, name)
		return
	}
	seg.set = set
	if seg.hasKey {
		seg.key, err = parseKeyPredicate(predicate, set.Keys())
	}
	return
}

func (s *Server) baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + strings.TrimRight(s.config.BasePath, "/")
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrEntitySetNotFound), errors.Is(err, ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrEntityExists):
		status = http.StatusConflict
	case errors.Is(err, common.ErrUnsupportedFilter), errors.Is(err, ErrInvalidEntity), errors.Is(err, common.ErrMissingKey):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("odata request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.Data(status, "application/json", writeError(strconv.Itoa(status), err.Error()))
}

func (s *Server) handleGet(c *gin.Context) {
	raw := c.Param("segment")
	if raw == "$metadata" {
		c.Data(http.StatusOK, "application/xml", buildMetadata(s.entitySets(), s.config.Version))
		return
	}
	seg, err := s.parseSegment(raw)
	if err != nil {
		s.fail(c, err)
		return
	}
	if seg.hasKey {
		s.getEntity(c, seg)
		return
	}
	q, err := ParseQuery(c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}

	// 服务端分页：一次最多返回 MaxPageSize 条，剩余部分通过 next link 获取
	limit := q.Top
	paged := false
	if maxPage := s.config.MaxPageSize; maxPage > 0 && (limit == 0 || limit > maxPage) {
		limit = maxPage
		paged = true
	}
	result, err := seg.set.Query(c.Request.Context(), q, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	base := s.baseURL(c)
	items := make([][]byte, 0, len(result.Rows))
	for _, row := range result.Rows {
		var item []byte
		if item, err = renderItem(row, q.Select, s.config.Version, entityURI(base, seg.set, row)); err != nil {
			s.fail(c, err)
			return
		}
		items = append(items, item)
	}
	next := ""
	if paged && len(result.Rows) == limit && q.Skip+limit < result.Count {
		next = nextLink(base+"/"+seg.set.Name(), c.Request.URL.Query(), q, limit)
	}
	metadata := base + "/$metadata#" + seg.set.Name()
	c.Data(http.StatusOK, "application/json", writeCollection(items, result.Count, q.Count, next, s.config.Version, metadata))
}

// nextLink 保留原请求的其它参数，只推进 $skip 并缩短 $top
func nextLink(setURL string, values url.Values, q Query, limit int) string {
	if q.Top > 0 {
		remain := q.Top - limit
		if remain <= 0 {
			return ""
		}
		values.Set("$top", strconv.Itoa(remain))
	}
	values.Set("$skip", strconv.Itoa(q.Skip+limit))
	return setURL + "?" + values.Encode()
}

func entityURI(base string, es *EntitySet, row string) string {
	item := utils.JSONMap{}
	for _, key := range es.Keys() {
		item[key] = gjson.Get(row, escapeKey(key)).Value()
	}
	predicate, err := keyPredicate(es.Keys(), item)
	if err != nil {
		return base + "/" + es.Name()
	}
	return base + "/" + es.Name() + "(" + predicate + ")"
}

func (s *Server) getEntity(c *gin.Context, seg segment) {
	item, err := seg.set.Get(c.Request.Context(), seg.key)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeItem(c, http.StatusOK, seg.set, item)
}

func (s *Server) writeItem(c *gin.Context, status int, es *EntitySet, item utils.JSONMap) {
	row, err := json.Marshal(item)
	if err != nil {
		s.fail(c, err)
		return
	}
	base := s.baseURL(c)
	rendered, err := renderItem(string(row), nil, s.config.Version, entityURI(base, es, string(row)))
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := writeEntity(rendered, s.config.Version, base+"/$metadata#"+es.Name()+"/$entity")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(status, "application/json", data)
}

func readItem(c *gin.Context) (item utils.JSONMap, err error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		err = errors.Wrap(ErrInvalidEntity, "request body is not a json object")
		return
	}
	err = item.Scan(body)
	return
}

func (s *Server) handlePost(c *gin.Context) {
	seg, err := s.parseSegment(c.Param("segment"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if seg.hasKey {
		c.Data(http.StatusMethodNotAllowed, "application/json", writeError("405", "POST to an entity is not allowed"))
		return
	}
	item, err := readItem(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	created, err := seg.set.Insert(c.Request.Context(), item)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Debug("entity created", "set", seg.set.Name(), "item", created.Stable())
	s.writeItem(c, http.StatusCreated, seg.set, created)
}

func (s *Server) handlePut(c *gin.Context) {
	seg, err := s.parseSegment(c.Param("segment"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !seg.hasKey {
		c.Data(http.StatusMethodNotAllowed, "application/json", writeError("405", "PUT requires a key predicate"))
		return
	}
	item, err := readItem(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.Request.Method == http.MethodPatch {
		// PATCH 只覆盖请求中出现的字段
		var old utils.JSONMap
		if old, err = seg.set.Get(c.Request.Context(), seg.key); err != nil {
			s.fail(c, err)
			return
		}
		for key, value := range item {
			old[key] = value
		}
		item = old
	}
	if err = seg.set.Update(c.Request.Context(), seg.key, item); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelete(c *gin.Context) {
	seg, err := s.parseSegment(c.Param("segment"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !seg.hasKey {
		c.Data(http.StatusMethodNotAllowed, "application/json", writeError("405", "DELETE requires a key predicate"))
		return
	}
	if err = seg.set.Delete(c.Request.Context(), seg.key); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
