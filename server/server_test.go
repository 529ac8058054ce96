package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"odataview"
	"odataview/common"
	"odataview/utils"
)

var productsDef = EntitySetDef{
	Name: "Products",
	Keys: []string{"Id"},
	Properties: []Property{
		{Name: "Id", Type: common.DataTypeNumber},
		{Name: "Name", Type: common.DataTypeString},
		{Name: "Price", Type: common.DataTypeNumber},
		{Name: "Ordered", Type: common.DataTypeDate},
		{Name: "Discontinued", Type: common.DataTypeBoolean},
	},
}

var colors = []string{"Red", "Green", "Blue"}

// productsSeed 生成 n 条记录，Id 由服务端按 1..n 分配
func productsSeed(n int) []byte {
	items := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, fmt.Sprintf(
			`{"Name":"Item %02d","Price":%d,"Color":"%s","Ordered":"2023-05-%02dT10:00:00Z","Discontinued":%t}`,
			i, i, colors[i%3], (i-1)%28+1, i%5 == 0,
		))
	}
	return []byte("[" + strings.Join(items, ",") + "]")
}

type testService struct {
	*httptest.Server
	server   *Server
	registry *prometheus.Registry
}

func newTestService(t *testing.T, version, maxPageSize, items int) *testService {
	t.Helper()
	ctx := context.Background()
	store := NewSqliteStore()
	require.NoError(t, store.Open(ctx, ":memory:"))
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Version = version
	cfg.MaxPageSize = maxPageSize
	cfg.Registry = prometheus.NewRegistry()
	srv, err := New(ctx, store, cfg)
	require.NoError(t, err)
	es, err := srv.Register(ctx, productsDef)
	require.NoError(t, err)
	n, err := es.Seed(ctx, productsSeed(items))
	require.NoError(t, err)
	require.Equal(t, items, n)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testService{Server: ts, server: srv, registry: cfg.Registry}
}

func (ts *testService) viewConfig() odataview.Config {
	cfg := odataview.NewConfig(ts.URL+"/odata", "Products")
	cfg.Client = ts.Client()
	// 测试里显式调用 Load，不让 setter 触发的延迟刷新插进来
	cfg.DebounceDelay = time.Hour
	cfg.WindowDelay = time.Hour
	return cfg
}

func (ts *testService) get(t *testing.T, path string, query url.Values) (int, []byte) {
	t.Helper()
	target := ts.URL + path
	if query != nil {
		target += "?" + query.Encode()
	}
	resp, err := ts.Client().Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func ids(items []utils.JSONMap) []float64 {
	list := []float64{}
	for _, item := range items {
		list = append(list, item["Id"].(float64))
	}
	return list
}

func TestPagedViewFollowsServerPaging(t *testing.T) {
	ts := newTestService(t, 4, 4, 25)
	cfg := ts.viewConfig()
	cfg.PageSize = 10
	view, err := odataview.NewCollectionView(cfg)
	require.NoError(t, err)
	defer view.Close()
	ctx := context.Background()

	require.NoError(t, view.Load(ctx))
	assert.Equal(t, common.Version(4), view.ODataVersion())
	assert.Equal(t, 25, view.TotalItemCount())
	assert.Equal(t, 3, view.PageCount())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ids(view.Items()))
	assert.Equal(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), view.Items()[0]["Ordered"])
	assert.Equal(t, common.DataTypeDate, view.DataTypes()["Ordered"])

	_, err = view.MoveToPage(2)
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	assert.Equal(t, []float64{21, 22, 23, 24, 25}, ids(view.Items()))

	_, err = view.SetFilterDefinition("contains(Name,'Item 1')")
	require.NoError(t, err)
	_, err = view.MoveToPage(0)
	require.NoError(t, err)
	_, err = view.SetSortDescriptions(common.SortDescription{Property: "Price", Ascending: false})
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	assert.Equal(t, 10, view.TotalItemCount())
	assert.Equal(t, []float64{19, 18, 17, 16, 15, 14, 13, 12, 11, 10}, ids(view.Items()))
}

func TestLegacyServiceView(t *testing.T) {
	ts := newTestService(t, 2, 0, 25)
	view, err := odataview.NewCollectionView(ts.viewConfig())
	require.NoError(t, err)
	defer view.Close()
	ctx := context.Background()

	provider := common.ColumnFilters{{
		Field:     "Name",
		DataType:  common.DataTypeString,
		Condition: &common.ConditionFilter{Condition1: common.Condition{Operator: common.OpContains, Value: "ITEM 2"}},
	}}
	_, err = view.UpdateFilterDefinition(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, "substringof('item 2', tolower(Name))", view.FilterDefinition())
	assert.True(t, view.ODataVersion().Legacy())

	require.NoError(t, view.Load(ctx))
	assert.Equal(t, 6, view.TotalItemCount())
	items := view.Items()
	require.Len(t, items, 6)
	assert.Equal(t, "Item 20", items[0]["Name"])
	// v2 服务返回 /Date(ms)/，读取后转换成 time.Time
	assert.Equal(t, time.Date(2023, 5, 20, 10, 0, 0, 0, time.UTC), items[0]["Ordered"])
}

func TestVirtualViewAgainstService(t *testing.T) {
	ts := newTestService(t, 4, 0, 250)
	view, err := odataview.NewVirtualView(ts.viewConfig())
	require.NoError(t, err)
	defer view.Close()
	ctx := context.Background()

	fetched, err := view.LoadWindow(ctx, 0, 50)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 250, view.TotalItemCount())
	items := view.Items()
	require.Len(t, items, 250)
	assert.Equal(t, 1.0, items[0]["Id"])
	assert.Equal(t, 100.0, items[99]["Id"])
	assert.Nil(t, items[100])

	fetched, err = view.LoadWindow(ctx, 120, 170)
	require.NoError(t, err)
	assert.True(t, fetched)
	items = view.Items()
	assert.Nil(t, items[119])
	assert.Equal(t, 121.0, items[120]["Id"])
	assert.Equal(t, 220.0, items[219]["Id"])

	fetched, err = view.LoadWindow(ctx, 130, 160)
	require.NoError(t, err)
	assert.False(t, fetched)
}

func TestViewWritesAgainstService(t *testing.T) {
	for _, version := range []int{2, 4} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			ts := newTestService(t, version, 0, 3)
			cfg := ts.viewConfig()
			cfg.Keys = []string{"Id"}
			view, err := odataview.NewCollectionView(cfg)
			require.NoError(t, err)
			defer view.Close()
			ctx := context.Background()
			require.NoError(t, view.Load(ctx))

			item := view.AddNew()
			item["Name"] = "New"
			item["Price"] = 9.5
			require.NoError(t, view.CommitNew(ctx))
			assert.Equal(t, 4.0, item["Id"])

			status, body := ts.get(t, "/odata/Products(Id=4)", nil)
			require.Equal(t, http.StatusOK, status)
			entity := gjson.ParseBytes(body)
			if version < 4 {
				entity = entity.Get("d")
			}
			assert.Equal(t, "New", entity.Get("Name").String())
			assert.Equal(t, 9.5, entity.Get("Price").Float())

			view.EditItem(item)
			item["Price"] = 11.0
			require.NoError(t, view.CommitEdit(ctx))
			status, body = ts.get(t, "/odata/Products(4)", nil)
			require.Equal(t, http.StatusOK, status)
			assert.Contains(t, string(body), `"Price":11`)

			require.NoError(t, view.Remove(ctx, item))
			status, _ = ts.get(t, "/odata/Products(Id=4)", nil)
			assert.Equal(t, http.StatusNotFound, status)
		})
	}
}

func TestStringKeysAreGenerated(t *testing.T) {
	ts := newTestService(t, 4, 0, 0)
	_, err := ts.server.Register(context.Background(), EntitySetDef{
		Name:       "Tags",
		Keys:       []string{"Code"},
		Properties: []Property{{Name: "Code", Type: common.DataTypeString}},
	})
	require.NoError(t, err)

	resp, err := ts.Client().Post(ts.URL+"/odata/Tags", "application/json", strings.NewReader(`{"Label":"red"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code := gjson.GetBytes(body, "Code").String()
	assert.Len(t, code, 20)

	resp, err = ts.Client().Post(ts.URL+"/odata/Tags", "application/json", strings.NewReader(`{"Code":"`+code+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestQueryOptions(t *testing.T) {
	ts := newTestService(t, 4, 0, 25)

	status, body := ts.get(t, "/odata/Products", url.Values{
		"$search":  {"GREEN"},
		"$select":  {"Id,Name"},
		"$orderby": {"Price desc"},
		"$top":     {"2"},
		"$count":   {"true"},
	})
	require.Equal(t, http.StatusOK, status)
	result := gjson.ParseBytes(body)
	assert.Equal(t, int64(9), result.Get(`@odata\.count`).Int())
	assert.JSONEq(t, `[{"Id":25,"Name":"Item 25"},{"Id":22,"Name":"Item 22"}]`, result.Get("value").Raw)
	assert.False(t, result.Get(`@odata\.nextLink`).Exists())

	status, body = ts.get(t, "/odata/Products", url.Values{"$filter": {"Discontinued eq true and Price lt 12"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{5.0, 10.0}, []interface{}{
		gjson.GetBytes(body, "value.0.Id").Float(),
		gjson.GetBytes(body, "value.1.Id").Float(),
	})
	assert.False(t, gjson.GetBytes(body, `@odata\.count`).Exists())
}

func TestLegacyEnvelope(t *testing.T) {
	ts := newTestService(t, 2, 10, 25)
	status, body := ts.get(t, "/odata/Products", url.Values{"$inlinecount": {"allpages"}, "$skip": {"5"}})
	require.Equal(t, http.StatusOK, status)
	result := gjson.ParseBytes(body)
	assert.Equal(t, "25", result.Get("d.__count").Str)
	assert.Len(t, result.Get("d.results").Array(), 10)
	assert.Equal(t, "/Date(1683367200000)/", result.Get("d.results.0.Ordered").Str)
	assert.True(t, strings.HasSuffix(result.Get("d.results.0.__metadata.uri").Str, "/odata/Products(Id=6)"))

	next, err := url.Parse(result.Get("d.__next").Str)
	require.NoError(t, err)
	assert.Equal(t, "15", next.Query().Get("$skip"))
	assert.Equal(t, "allpages", next.Query().Get("$inlinecount"))
}

func TestMetadata(t *testing.T) {
	ts := newTestService(t, 4, 0, 0)
	status, body := ts.get(t, "/odata/$metadata", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `<edmx:Edmx Version="4.0"`)
	assert.Contains(t, string(body), `<Property Name="Ordered" Type="Edm.DateTimeOffset"/>`)

	prober := odataview.NewProber(ts.Client(), odataview.NewVersionCache(), nil, nil)
	assert.Equal(t, common.Version(4), prober.Version(context.Background(), ts.URL+"/odata"))

	legacy := newTestService(t, 2, 0, 0)
	prober = odataview.NewProber(legacy.Client(), odataview.NewVersionCache(), nil, nil)
	assert.Equal(t, common.Version(1), prober.Version(context.Background(), legacy.URL+"/odata"))
}

func TestErrors(t *testing.T) {
	ts := newTestService(t, 4, 0, 3)

	status, body := ts.get(t, "/odata/Missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, gjson.GetBytes(body, "error.message").Str, "entity set not found")

	status, _ = ts.get(t, "/odata/Products", url.Values{"$filter": {"Price gt"}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.get(t, "/odata/Products(Id=99)", nil)
	assert.Equal(t, http.StatusNotFound, status)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/odata/Products(Id=99)", strings.NewReader(`{"Name":"x"}`))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = ts.Client().Post(ts.URL+"/odata/Products", "application/json", strings.NewReader(`[1]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 客户端收到 4xx 时不重试
	cfg := ts.viewConfig()
	cfg.Table = "Missing"
	view, err := odataview.NewCollectionView(cfg)
	require.NoError(t, err)
	defer view.Close()
	err = view.Load(context.Background())
	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
}

func TestServerMetrics(t *testing.T) {
	ts := newTestService(t, 4, 0, 1)
	ts.get(t, "/odata/Products", nil)
	status, body := ts.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `odataview_server_requests_total{code="200",method="GET"} 1`)
}

func TestReopenStore(t *testing.T) {
	ctx := context.Background()
	store := NewSqliteStore()
	require.NoError(t, store.Open(ctx, ":memory:"))
	defer store.Close()
	_, err := store.CreateEntitySet(ctx, productsDef)
	require.NoError(t, err)

	// 再次创建返回已有的 entity set
	es, err := store.CreateEntitySet(ctx, productsDef)
	require.NoError(t, err)
	assert.Equal(t, productsDef, es.Def())

	list, err := store.ListEntitySets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"Id"}, list[0].Keys())

	_, err = store.OpenEntitySet(ctx, "Nope")
	assert.ErrorIs(t, err, ErrEntitySetNotFound)

	_, err = store.CreateEntitySet(ctx, EntitySetDef{Name: "Bad Name", Keys: []string{"Id"}})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}
