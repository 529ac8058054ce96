package common

import (
	"context"
	"net/http"

	"odataview/utils"
)

// HTTPClient 允许注入 mock 的 HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// View 是分页视图和虚拟窗口视图共同暴露的接口
type View interface {
	Load(ctx context.Context) error
	Refresh()
	Items() []utils.JSONMap
	SourceItems() []utils.JSONMap
	TotalItemCount() int
	PageCount() int
	PageIndex() int
	IsLoading() bool
	ODataVersion() Version
	Close()
}
