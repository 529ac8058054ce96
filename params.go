package odataview

import (
	"bytes"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"odataview/common"
	"odataview/query"

	"github.com/tidwall/sjson"
)

// Params 是一次读取请求的 OData 查询参数
type Params map[string]string

// Encode 按 key 排序输出；空格编码为 %20，'$' 保持原样
func (p Params) Encode() string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var buffer bytes.Buffer
	for idx, key := range keys {
		if idx != 0 {
			buffer.WriteString("&")
		}
		buffer.WriteString(key)
		buffer.WriteString("=")
		buffer.WriteString(strings.ReplaceAll(url.QueryEscape(p[key]), "+", "%20"))
	}
	return buffer.String()
}

// queryState 是视图的查询状态：字段、排序、过滤、分页
type queryState struct {
	fields         []string
	sort           []common.SortDescription
	sortOnServer   bool
	pageOnServer   bool
	filterOnServer bool
	filter         string
	search         string
	pageIndex      int
	pageSize       int
	dataTypes      map[string]common.DataType
	version        common.Version
}

func newQueryState(cfg Config) queryState {
	s := queryState{
		fields:         append([]string{}, cfg.Fields...),
		sort:           append([]common.SortDescription{}, cfg.SortDescriptions...),
		sortOnServer:   cfg.SortOnServer,
		pageOnServer:   cfg.PageOnServer,
		filterOnServer: cfg.FilterOnServer,
		filter:         cfg.FilterDefinition,
		search:         cfg.Search,
		pageSize:       cfg.PageSize,
		version:        cfg.ODataVersion,
	}
	if cfg.DataTypes != nil {
		s.dataTypes = map[string]common.DataType{}
		for field, dt := range cfg.DataTypes {
			s.dataTypes[field] = dt
		}
	}
	return s
}

// Marshal 只序列化会改变服务端请求的部分；两次结果不同说明需要重新读取
func (s *queryState) Marshal() string {
	data := "{}"
	data, _ = sjson.Set(data, "fields", s.fields)
	data, _ = sjson.Set(data, "sort_on_server", s.sortOnServer)
	data, _ = sjson.Set(data, "page_on_server", s.pageOnServer)
	data, _ = sjson.Set(data, "filter_on_server", s.filterOnServer)
	data, _ = sjson.Set(data, "filter", s.filter)
	data, _ = sjson.Set(data, "search", s.search)
	data, _ = sjson.Set(data, "data_types", s.dataTypes)
	data, _ = sjson.Set(data, "version", int(s.version))
	if s.sortOnServer {
		data, _ = sjson.Set(data, "sort", query.OrderBy(s.sort))
	}
	if s.pageOnServer {
		data, _ = sjson.Set(data, "page_size", s.pageSize)
		data, _ = sjson.Set(data, "page_index", s.pageIndex)
	}
	return data
}

// page 返回分页视图的 $skip / $top；top 为 0 表示不分页
func (s *queryState) page() (skip, top int) {
	if s.pageOnServer && s.pageSize > 0 {
		skip, top = s.pageIndex*s.pageSize, s.pageSize
	}
	return
}

// params 生成首个请求的参数。续页请求不带参数，next link 已经包含了它们。
func (s *queryState) params(version common.Version, skip, top int) Params {
	p := Params{"$format": "json"}
	if version.Legacy() {
		p["$inlinecount"] = "allpages"
	} else {
		p["$count"] = "true"
	}
	if len(s.fields) > 0 {
		p["$select"] = strings.Join(s.fields, ",")
	}
	if s.sortOnServer && len(s.sort) > 0 {
		p["$orderby"] = query.OrderBy(s.sort)
	}
	if top > 0 {
		p["$skip"] = strconv.Itoa(skip)
		p["$top"] = strconv.Itoa(top)
	}
	// 与 filterOnServer 无关：服务端过滤和客户端过滤可以同时存在
	if s.filter != "" {
		p["$filter"] = s.filter
	}
	if s.search != "" && !version.Legacy() {
		p["$search"] = s.search
	}
	return p
}

func readURL(serviceURL, table string, p Params) string {
	return serviceURL + "/" + table + "?" + p.Encode()
}
