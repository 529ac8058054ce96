package odataview

import (
	"context"
	"log/slog"
	"sync"

	"odataview/common"
	"odataview/utils"

	"github.com/pkg/errors"
)

// VirtualView 在 CollectionView 之上按需加载数据窗口。
// source items 是长度等于总数的稀疏数组，未加载的位置为 nil。
// 分组需要知道全部数据，所以 canGroup 固定为 false；
// 排序、过滤、分页固定在服务端完成。
type VirtualView struct {
	*CollectionView
	store *windowStore

	windowLock sync.Mutex
	start, end int
	// 上一次 need check 时的窗口起点，用来判断滚动方向
	prevStart int
	// 上一次请求的 $skip，Load 从这里重新读取
	lastSkip int
	windower *debouncer
}

var _ common.View = (*VirtualView)(nil)

func NewVirtualView(cfg Config) (vv *VirtualView, err error) {
	if !cfg.SortOnServer || !cfg.PageOnServer || !cfg.FilterOnServer {
		err = errors.Wrap(common.ErrCapabilityPinned, "virtual view requires sort, page and filter on server")
		return
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultWindowSize
	}
	store := newWindowStore()
	cv, err := newCollectionView(cfg, store, true)
	if err != nil {
		return
	}
	vv = &VirtualView{
		CollectionView: cv,
		store:          store,
	}
	cv.reload = vv.Load
	vv.windower = newDebouncer(cv.config.WindowDelay, func() {
		vv.windowLock.Lock()
		start, end := vv.start, vv.end
		vv.windowLock.Unlock()
		if _, err := vv.LoadWindow(context.Background(), start, end); err != nil {
			vv.logger.Error("window load failed", slog.Int("start", start), slog.Int("end", end), slog.Any("error", err))
		}
	})
	return
}

// Load 重新分配稀疏数组，并从上一次的窗口位置重新读取
func (vv *VirtualView) Load(ctx context.Context) error {
	vv.CollectionView.lock.Lock()
	if vv.closed {
		vv.CollectionView.lock.Unlock()
		return common.ErrViewClosed
	}
	vv.generation++
	gen := vv.generation
	vv.store.reset()
	top := vv.state.pageSize
	total := vv.store.total()
	vv.CollectionView.lock.Unlock()

	vv.windowLock.Lock()
	skip := min(vv.lastSkip, max(0, total-top))
	vv.lastSkip = skip
	vv.windowLock.Unlock()
	if err := vv.fetch(ctx, gen, skip, top); err != nil {
		return err
	}

	// 总数变小后原来的窗口可能整个落在数组之外，改为读取最后一页
	vv.CollectionView.lock.Lock()
	total = vv.store.total()
	current := gen == vv.generation && !vv.closed
	vv.CollectionView.lock.Unlock()
	if !current || total == 0 || skip < total {
		return nil
	}
	skip = max(0, total-top)
	vv.windowLock.Lock()
	vv.lastSkip = skip
	vv.windowLock.Unlock()
	return vv.fetch(ctx, gen, skip, top)
}

// SetWindow 记录窗口 [start,end)，延迟 WindowDelay 后检查并加载；
// 滚动时的连续调用只会触发最后一次
func (vv *VirtualView) SetWindow(start, end int) {
	vv.windowLock.Lock()
	vv.start, vv.end = start, end
	vv.windowLock.Unlock()
	vv.windower.Trigger()
}

// LoadWindow 立即检查 [start,end)；窗口内已全部加载时不发请求，返回 fetched=false
func (vv *VirtualView) LoadWindow(ctx context.Context, start, end int) (fetched bool, err error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}

	vv.CollectionView.lock.Lock()
	if vv.closed {
		vv.CollectionView.lock.Unlock()
		err = common.ErrViewClosed
		return
	}
	gen := vv.generation
	pageSize := vv.state.pageSize
	missing := vv.store.firstMissing(start, end)
	vv.windowLock.Lock()
	forward := start > vv.prevStart
	vv.prevStart = start
	if missing < 0 {
		vv.windowLock.Unlock()
		vv.CollectionView.lock.Unlock()
		return
	}
	skip := end - pageSize
	if forward {
		skip = start
	}
	if skip < 0 {
		skip = 0
	}
	// 跳过开头已经加载的部分
	skip = vv.store.skipLoaded(skip)
	vv.lastSkip = skip
	vv.windowLock.Unlock()
	vv.CollectionView.lock.Unlock()

	vv.logger.Debug("loading window",
		slog.Int("start", start),
		slog.Int("end", end),
		slog.Int("skip", skip),
		slog.Int("top", pageSize))
	if err = vv.fetch(ctx, gen, skip, pageSize); err != nil {
		return
	}
	fetched = true
	return
}

// Window 返回最近一次 SetWindow 的范围
func (vv *VirtualView) Window() (start, end int) {
	vv.windowLock.Lock()
	defer vv.windowLock.Unlock()
	return vv.start, vv.end
}

// Items 返回稀疏数组本身（包括 nil 占位）
func (vv *VirtualView) Items() []utils.JSONMap {
	return vv.SourceItems()
}

func (vv *VirtualView) TotalItemCount() int {
	vv.CollectionView.lock.Lock()
	defer vv.CollectionView.lock.Unlock()
	return vv.store.total()
}

func (vv *VirtualView) Close() {
	vv.windower.Stop()
	vv.CollectionView.Close()
}
