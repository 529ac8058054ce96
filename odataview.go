// Package odataview 把 OData 服务 (v1-v4) 的 entity set 绑定为可分页、可按窗口加载的视图。
//
// CollectionView 负责读取：把排序、过滤、分页翻译为 OData 查询参数，
// 解析 v2 (d.results) 和 v4 (value) 两种响应，跟随 next link，推断日期字段；
// 以及写入：POST / PUT / DELETE 到 <service>/<table>[(key=value,...)]。
// VirtualView 在其上维护一个稀疏数组，只加载当前窗口需要的数据。
package odataview

import (
	"context"

	"odataview/common"
	"odataview/utils"
)

// Editor 是视图暴露的写操作
type Editor interface {
	// 新建待提交记录
	AddNew() utils.JSONMap
	// 提交新记录，服务端分配的 key 会写回记录
	CommitNew(ctx context.Context) error
	// 开始编辑
	EditItem(item utils.JSONMap)
	// 提交编辑，内容未变时不发请求
	CommitEdit(ctx context.Context) error
	// 放弃编辑
	CancelEdit()
	// 删除记录
	Remove(ctx context.Context, item utils.JSONMap) error
}

// Windowed 是按窗口加载的视图
type Windowed interface {
	common.View
	SetWindow(start, end int)
	LoadWindow(ctx context.Context, start, end int) (bool, error)
}

var (
	_ Editor   = (*CollectionView)(nil)
	_ Windowed = (*VirtualView)(nil)
)
