package odataview

import (
	"odataview/utils"
)

// batch 是一次响应合并进视图的数据
type batch struct {
	items    []utils.JSONMap
	count    int
	hasCount bool
	// 续页链中的第一页
	first bool
	skip  int
}

// batchStore 保存视图的 source items，分页视图和虚拟窗口视图各有实现
type batchStore interface {
	merge(b batch)
	items() []utils.JSONMap
	total() int
	add(item utils.JSONMap)
	remove(item utils.JSONMap) bool
	reset()
}

// pagedStore: 首页替换，续页追加
type pagedStore struct {
	list  []utils.JSONMap
	count int
	// 服务端没有返回总数时按已加载的条数计算
	hasCount bool
}

func newPagedStore() *pagedStore {
	return &pagedStore{list: []utils.JSONMap{}}
}

func (s *pagedStore) merge(b batch) {
	if b.first {
		s.list = make([]utils.JSONMap, 0, len(b.items))
		s.hasCount = false
	}
	s.list = append(s.list, b.items...)
	if b.hasCount {
		s.count, s.hasCount = b.count, true
	}
}

func (s *pagedStore) items() []utils.JSONMap {
	return s.list
}

func (s *pagedStore) total() int {
	if s.hasCount {
		return s.count
	}
	return len(s.list)
}

func (s *pagedStore) add(item utils.JSONMap) {
	s.list = append(s.list, item)
	if s.hasCount {
		s.count++
	}
}

func (s *pagedStore) remove(item utils.JSONMap) bool {
	for idx, it := range s.list {
		if utils.Same(it, item) {
			s.list = append(s.list[:idx], s.list[idx+1:]...)
			if s.hasCount && s.count > 0 {
				s.count--
			}
			return true
		}
	}
	return false
}

func (s *pagedStore) reset() {}

// windowStore 是虚拟视图的稀疏数组：长度等于总数，未加载的位置为 nil
type windowStore struct {
	sparse     []utils.JSONMap
	loaded     bool
	needsReset bool
	// 续页链中已插入的条数
	loadOffset int
	// 首页带了总数时，数组长度固定为该总数
	counted bool
}

func newWindowStore() *windowStore {
	return &windowStore{sparse: []utils.JSONMap{}}
}

func (s *windowStore) merge(b batch) {
	if b.first {
		s.loadOffset = 0
		if s.needsReset || (b.hasCount && b.count != len(s.sparse)) {
			n := len(s.sparse)
			if b.hasCount {
				n = b.count
			}
			s.sparse = make([]utils.JSONMap, n)
			s.needsReset = false
		}
		s.counted = b.hasCount
	}
	start := b.skip + s.loadOffset
	items := b.items
	if end := start + len(items); end > len(s.sparse) {
		if s.counted {
			// 超出总数的部分丢弃
			start = min(start, len(s.sparse))
			items = items[:len(s.sparse)-start]
		} else {
			// 服务端没有返回总数
			s.sparse = append(s.sparse, make([]utils.JSONMap, end-len(s.sparse))...)
		}
	}
	copy(s.sparse[start:], items)
	s.loadOffset += len(b.items)
	s.loaded = true
}

func (s *windowStore) items() []utils.JSONMap {
	return s.sparse
}

func (s *windowStore) total() int {
	return len(s.sparse)
}

func (s *windowStore) add(item utils.JSONMap) {
	s.sparse = append(s.sparse, item)
}

func (s *windowStore) remove(item utils.JSONMap) bool {
	for idx, it := range s.sparse {
		if utils.Same(it, item) {
			s.sparse = append(s.sparse[:idx], s.sparse[idx+1:]...)
			return true
		}
	}
	return false
}

// reset 让下一个首页重新分配稀疏数组
func (s *windowStore) reset() {
	s.needsReset = true
}

// firstMissing 返回 [start,end) 中第一个未加载的位置，没有则返回 -1。
// 尚未加载过时整个范围都算缺失。
func (s *windowStore) firstMissing(start, end int) int {
	if !s.loaded {
		return start
	}
	if end > len(s.sparse) {
		end = len(s.sparse)
	}
	for idx := start; idx < end; idx++ {
		if s.sparse[idx] == nil {
			return idx
		}
	}
	return -1
}

// skipLoaded 从 idx 开始跳过已加载的位置
func (s *windowStore) skipLoaded(idx int) int {
	for idx < len(s.sparse) && s.sparse[idx] != nil {
		idx++
	}
	return idx
}
