package odataview

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"odataview/attribute"
	"odataview/common"
	"odataview/query"
	"odataview/utils"

	"github.com/pkg/errors"
)

// CollectionView 绑定到 <service>/<table> 的分页视图。
//
// 读取流程：必要时探测协议版本 -> 按查询状态生成参数读取 -> 解析响应 ->
// 推断并转换字段类型 -> 合并到 store -> 顺序跟随 next link 直到结束。
// 每次 Load 都会递增 generation，过期的响应会被丢弃。
type CollectionView struct {
	lock   sync.Mutex
	config Config
	state  queryState
	// 虚拟视图固定 sortOnServer/pageOnServer/filterOnServer=true, canGroup=false
	pinned   bool
	canGroup bool
	keys     []string

	typesInferred bool
	store         batchStore
	predicate     func(item utils.JSONMap) bool
	generation    uint64
	loading       int
	closed        bool

	pending  utils.JSONMap
	editing  utils.JSONMap
	snapshot utils.JSONMap
	// editing 在 EditItem 时的序列化结果
	snapshotStable string

	transport *transport
	prober    *Prober
	refresher *debouncer
	reload    func(ctx context.Context) error
	logger    *slog.Logger
}

var _ common.View = (*CollectionView)(nil)

func NewCollectionView(cfg Config) (*CollectionView, error) {
	return newCollectionView(cfg, newPagedStore(), false)
}

func newCollectionView(cfg Config, store batchStore, pinned bool) (v *CollectionView, err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	cfg = cfg.withDefaults()
	t := newTransport(cfg)
	v = &CollectionView{
		config:    cfg,
		state:     newQueryState(cfg),
		pinned:    pinned,
		keys:      append([]string{}, cfg.Keys...),
		store:     store,
		transport: t,
		prober:    newProber(t, cfg.VersionCache, cfg.Logger, cfg.Metrics),
		logger:    cfg.Logger.With(slog.String("table", cfg.Table)),
	}
	v.reload = v.Load
	v.refresher = newDebouncer(cfg.DebounceDelay, func() {
		if err := v.reload(context.Background()); err != nil {
			v.logger.Error("refresh failed", slog.Any("error", err))
		}
	})
	return
}

// Load 立即读取当前页，阻塞直到续页全部合并
func (v *CollectionView) Load(ctx context.Context) error {
	v.lock.Lock()
	if v.closed {
		v.lock.Unlock()
		return common.ErrViewClosed
	}
	v.generation++
	gen := v.generation
	v.store.reset()
	skip, top := v.state.page()
	v.lock.Unlock()
	return v.fetch(ctx, gen, skip, top)
}

// Refresh 延迟 DebounceDelay 后读取，期间的多次调用合并为一次
func (v *CollectionView) Refresh() {
	v.refresher.Trigger()
}

func (v *CollectionView) Close() {
	v.lock.Lock()
	v.closed = true
	v.lock.Unlock()
	v.refresher.Stop()
}

// errSuperseded: 结果属于旧的 generation，已丢弃
var errSuperseded = errors.New("batch superseded by a newer load")

func (v *CollectionView) fetch(ctx context.Context, gen uint64, skip, top int) (err error) {
	v.beginLoading()
	defer func() {
		quiet := errors.Is(err, errHandled) || errors.Is(err, errSuperseded)
		if quiet {
			err = nil
		}
		v.endLoading(err == nil && !quiet)
	}()

	version := v.resolveVersion(ctx)
	v.lock.Lock()
	next := readURL(v.config.ServiceURL, v.config.Table, v.state.params(version, skip, top))
	v.lock.Unlock()

	first := true
	for next != "" {
		var data []byte
		if data, err = v.transport.send(ctx, http.MethodGet, next, nil); err != nil {
			return
		}
		var env envelope
		if env, err = parseEnvelope(data); err != nil {
			return
		}
		if !v.apply(gen, env, first, skip) {
			v.logger.Debug("dropping superseded batch", slog.Uint64("generation", gen))
			err = errSuperseded
			return
		}
		if env.next == "" {
			break
		}
		if next, err = resolveLink(next, env.next); err != nil {
			return
		}
		first = false
	}
	return
}

func (v *CollectionView) apply(gen uint64, env envelope, first bool, skip int) bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	if gen != v.generation || v.closed {
		return false
	}
	v.convert(env.items)
	v.store.merge(batch{
		items:    env.items,
		count:    env.count,
		hasCount: env.hasCount,
		first:    first,
		skip:     skip,
	})
	v.config.Metrics.recordItems(len(env.items))
	return true
}

// convert 首次拿到数据时推断日期字段（显式配置的类型优先），然后原地转换
func (v *CollectionView) convert(items []utils.JSONMap) {
	if v.config.InferDataTypes && !v.typesInferred && len(items) > 0 {
		for field, dt := range attribute.InferDataTypes(items) {
			if v.state.dataTypes == nil {
				v.state.dataTypes = map[string]common.DataType{}
			}
			if _, ok := v.state.dataTypes[field]; !ok {
				v.state.dataTypes[field] = dt
			}
		}
		v.typesInferred = true
	}
	if len(v.state.dataTypes) == 0 {
		return
	}
	for _, item := range items {
		if err := attribute.ConvertItem(item, v.state.dataTypes); err != nil {
			v.logger.Debug("convert item failed", slog.Any("error", err))
		}
	}
}

// resolveVersion 版本未知时先探测；探测本身不会失败
func (v *CollectionView) resolveVersion(ctx context.Context) common.Version {
	v.lock.Lock()
	version := v.state.version
	v.lock.Unlock()
	if version.Known() {
		return version
	}
	version = v.prober.Version(ctx, v.config.ServiceURL)
	v.lock.Lock()
	if !v.state.version.Known() {
		v.state.version = version
	}
	v.lock.Unlock()
	return version
}

func (v *CollectionView) beginLoading() {
	v.lock.Lock()
	v.loading++
	v.lock.Unlock()
	if v.config.OnLoading != nil {
		v.config.OnLoading()
	}
}

func (v *CollectionView) endLoading(ok bool) {
	v.lock.Lock()
	v.loading--
	v.lock.Unlock()
	if ok && v.config.OnLoaded != nil {
		v.config.OnLoaded()
	}
}

// update 修改查询状态；服务端请求发生变化时返回 refetch=true 并延迟重新读取
func (v *CollectionView) update(fn func(s *queryState) error) (refetch bool, err error) {
	v.lock.Lock()
	if v.closed {
		v.lock.Unlock()
		err = common.ErrViewClosed
		return
	}
	before := v.state.Marshal()
	if err = fn(&v.state); err == nil {
		refetch = before != v.state.Marshal()
	}
	v.lock.Unlock()
	if refetch {
		v.refresher.Trigger()
	}
	return
}

func (v *CollectionView) SetFields(fields ...string) (bool, error) {
	return v.update(func(s *queryState) error {
		s.fields = append([]string{}, fields...)
		return nil
	})
}

// SetKeys 设置写请求使用的 key 字段，不影响读取
func (v *CollectionView) SetKeys(keys ...string) (bool, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.keys = append([]string{}, keys...)
	return false, nil
}

func (v *CollectionView) SetDataTypes(types map[string]common.DataType) (bool, error) {
	return v.update(func(s *queryState) error {
		next := map[string]common.DataType{}
		for field, dt := range types {
			if _, err := common.ParseDataType(string(dt)); err != nil {
				return errors.Wrapf(common.ErrInvalidConfig, "data type of %s: %v", field, err)
			}
			next[field] = dt
		}
		s.dataTypes = next
		return nil
	})
}

func (v *CollectionView) SetSortOnServer(on bool) (bool, error) {
	return v.update(func(s *queryState) error {
		if v.pinned && !on {
			return errors.Wrap(common.ErrCapabilityPinned, "sortOnServer")
		}
		s.sortOnServer = on
		return nil
	})
}

func (v *CollectionView) SetPageOnServer(on bool) (bool, error) {
	return v.update(func(s *queryState) error {
		if v.pinned && !on {
			return errors.Wrap(common.ErrCapabilityPinned, "pageOnServer")
		}
		s.pageOnServer = on
		return nil
	})
}

func (v *CollectionView) SetFilterOnServer(on bool) (bool, error) {
	return v.update(func(s *queryState) error {
		if v.pinned && !on {
			return errors.Wrap(common.ErrCapabilityPinned, "filterOnServer")
		}
		s.filterOnServer = on
		return nil
	})
}

func (v *CollectionView) SetCanGroup(on bool) (bool, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.pinned && on {
		return false, errors.Wrap(common.ErrCapabilityPinned, "canGroup")
	}
	v.canGroup = on
	return false, nil
}

func (v *CollectionView) CanGroup() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.canGroup
}

func (v *CollectionView) SetFilterDefinition(filter string) (bool, error) {
	return v.update(func(s *queryState) error {
		s.filter = filter
		return nil
	})
}

// UpdateFilterDefinition 在 filterOnServer 时把 provider 的列过滤翻译为 $filter。
// 翻译依赖协议版本，版本未知时会先探测。
func (v *CollectionView) UpdateFilterDefinition(ctx context.Context, provider common.FilterProvider) (refetch bool, err error) {
	v.lock.Lock()
	onServer := v.state.filterOnServer
	v.lock.Unlock()
	if !onServer || provider == nil {
		return
	}
	version := v.resolveVersion(ctx)
	def, err := query.FilterDefinition(provider, version)
	if err != nil {
		return
	}
	return v.SetFilterDefinition(def)
}

func (v *CollectionView) SetSearch(search string) (bool, error) {
	return v.update(func(s *queryState) error {
		s.search = search
		return nil
	})
}

func (v *CollectionView) SetPageSize(size int) (bool, error) {
	return v.update(func(s *queryState) error {
		if size < 0 {
			return errors.Wrapf(common.ErrInvalidConfig, "page size %d", size)
		}
		if s.pageSize != size {
			s.pageSize = size
			s.pageIndex = 0
		}
		return nil
	})
}

func (v *CollectionView) SetODataVersion(version common.Version) (bool, error) {
	return v.update(func(s *queryState) error {
		if version != common.VersionUnknown && !version.Known() {
			return errors.Wrapf(common.ErrUnsupportedVersion, "version %d", version)
		}
		s.version = version
		return nil
	})
}

func (v *CollectionView) SetSortDescriptions(sds ...common.SortDescription) (bool, error) {
	return v.update(func(s *queryState) error {
		s.sort = append([]common.SortDescription{}, sds...)
		return nil
	})
}

// SetFilter 设置客户端过滤函数，只影响 Items
func (v *CollectionView) SetFilter(predicate func(item utils.JSONMap) bool) (bool, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.predicate = predicate
	return false, nil
}

func (v *CollectionView) MoveToPage(index int) (bool, error) {
	return v.update(func(s *queryState) error {
		count := pageCount(v.totalLocked(), s.pageSize)
		if index < 0 || (index > 0 && index >= count) {
			return errors.Wrapf(common.ErrPageOutOfRange, "page %d of %d", index, count)
		}
		s.pageIndex = index
		return nil
	})
}

// Items 返回客户端投影：过滤函数，未在服务端排序时本地排序，未在服务端分页时本地分页
func (v *CollectionView) Items() []utils.JSONMap {
	v.lock.Lock()
	defer v.lock.Unlock()
	items := v.filteredLocked()
	if !v.state.sortOnServer && len(v.state.sort) > 0 {
		sortItems(items, v.state.sort)
	}
	if !v.state.pageOnServer && v.state.pageSize > 0 {
		start := v.state.pageIndex * v.state.pageSize
		if start > len(items) {
			start = len(items)
		}
		end := start + v.state.pageSize
		if end > len(items) {
			end = len(items)
		}
		items = items[start:end]
	}
	return items
}

func (v *CollectionView) SourceItems() []utils.JSONMap {
	v.lock.Lock()
	defer v.lock.Unlock()
	return append([]utils.JSONMap{}, v.store.items()...)
}

func (v *CollectionView) TotalItemCount() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.totalLocked()
}

func (v *CollectionView) PageCount() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return pageCount(v.totalLocked(), v.state.pageSize)
}

func (v *CollectionView) PageIndex() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.state.pageIndex
}

func (v *CollectionView) PageSize() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.state.pageSize
}

func (v *CollectionView) IsLoading() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.loading > 0
}

// ODataVersion 返回当前使用的协议版本，尚未探测时为 0
func (v *CollectionView) ODataVersion() common.Version {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.state.version
}

func (v *CollectionView) DataTypes() map[string]common.DataType {
	v.lock.Lock()
	defer v.lock.Unlock()
	types := make(map[string]common.DataType, len(v.state.dataTypes))
	for field, dt := range v.state.dataTypes {
		types[field] = dt
	}
	return types
}

func (v *CollectionView) FilterDefinition() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.state.filter
}

// totalLocked 服务端分页时使用服务端总数，否则是本地过滤后的条数
func (v *CollectionView) totalLocked() int {
	if v.state.pageOnServer {
		return v.store.total()
	}
	return len(v.filteredLocked())
}

func (v *CollectionView) filteredLocked() []utils.JSONMap {
	src := v.store.items()
	items := make([]utils.JSONMap, 0, len(src))
	for _, item := range src {
		if v.predicate != nil && !v.predicate(item) {
			continue
		}
		items = append(items, item)
	}
	return items
}

// pageCount = ceil(total/size)；未设置 size 时为 1
func pageCount(total, size int) int {
	if size <= 0 {
		return 1
	}
	return (total + size - 1) / size
}
