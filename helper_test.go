package odataview

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// --- Mock HTTP Client ---

type recordedRequest struct {
	Method string
	URL    string
	Body   string
}

type MockHTTPClient struct {
	lock     sync.Mutex
	requests []recordedRequest
	DoFunc   func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	m.lock.Lock()
	m.requests = append(m.requests, recordedRequest{Method: req.Method, URL: req.URL.String(), Body: body})
	m.lock.Unlock()
	return m.DoFunc(req)
}

// Requests returns the recorded requests with the given method, or all when method is empty.
func (m *MockHTTPClient) Requests(method string) []recordedRequest {
	m.lock.Lock()
	defer m.lock.Unlock()
	list := []recordedRequest{}
	for _, r := range m.requests {
		if method == "" || r.Method == method {
			list = append(list, r)
		}
	}
	return list
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// rangeService 模拟一个有 total 条记录的 v4 entity set，按 $skip/$top 返回 {"Id":i}
func rangeService(total int) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		skip, _ := strconv.Atoi(q.Get("$skip"))
		top, err := strconv.Atoi(q.Get("$top"))
		if err != nil {
			top = total
		}
		values := []string{}
		for i := skip; i < skip+top && i < total; i++ {
			values = append(values, fmt.Sprintf(`{"Id":%d}`, i))
		}
		return respond(http.StatusOK, fmt.Sprintf(`{"@odata.count":%d,"value":[%s]}`, total, strings.Join(values, ","))), nil
	}
}

func testConfig(client *MockHTTPClient) Config {
	cfg := NewConfig("http://svc.example.com/odata", "Products")
	cfg.Client = client
	cfg.ODataVersion = 4
	cfg.DebounceDelay = 10 * time.Millisecond
	cfg.WindowDelay = 10 * time.Millisecond
	return cfg
}
