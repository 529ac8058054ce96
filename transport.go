package odataview

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"odataview/common"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

// errHandled 表示 OnError 已经处理了这次失败
var errHandled = errors.New("request error handled by OnError")

type transport struct {
	client     common.HTTPClient
	headers    map[string]string
	logger     *slog.Logger
	metrics    *Metrics
	onError    func(err *common.RequestError) bool
	maxRetries int
	retryDelay time.Duration
}

func newTransport(cfg Config) *transport {
	return &transport{
		client:     cfg.Client,
		headers:    cfg.RequestHeaders,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		onError:    cfg.OnError,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// do 发送一次请求；非 2xx 和传输失败都返回 *common.RequestError
func (t *transport) do(ctx context.Context, method, rawURL string, body []byte) (data []byte, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		err = errors.Wrapf(err, "build %s request", method)
		return
	}
	if strings.HasSuffix(req.URL.Path, "/$metadata") {
		req.Header.Set("Accept", "application/xml")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	t.logger.Debug("odata request", slog.String("method", method), slog.String("url", rawURL))
	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.recordRequest(method, false, time.Since(start))
		err = &common.RequestError{Method: method, URL: rawURL, Err: err}
		return
	}
	defer resp.Body.Close()
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		t.metrics.recordRequest(method, false, time.Since(start))
		err = &common.RequestError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.metrics.recordRequest(method, false, time.Since(start))
		err = &common.RequestError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
		return
	}
	t.metrics.recordRequest(method, true, time.Since(start))
	return
}

// send 按 "通知, 可选重试, 再上抛" 的策略发送请求：
// 每次失败先交给 onError；未处理的临时错误最多重试 maxRetries 次。
func (t *transport) send(ctx context.Context, method, rawURL string, body []byte) (data []byte, err error) {
	handled := false
	operation := func() ([]byte, error) {
		data, err := t.do(ctx, method, rawURL, body)
		if err == nil {
			return data, nil
		}
		var reqErr *common.RequestError
		if !errors.As(err, &reqErr) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if t.onError != nil && t.onError(reqErr) {
			handled = true
			return nil, backoff.Permanent(err)
		}
		if !reqErr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	data, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(t.retryDelay)),
		backoff.WithMaxTries(uint(t.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.metrics.recordRetry()
			t.logger.Warn("odata request failed, retrying",
				slog.String("method", method),
				slog.String("url", rawURL),
				slog.Duration("next", next),
				slog.Any("error", err))
		}),
	)
	if handled {
		data, err = nil, errHandled
	}
	return
}

// resolveLink 把相对的 next link 解析为绝对地址
func resolveLink(base, link string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse request url")
	}
	l, err := url.Parse(link)
	if err != nil {
		return "", errors.Wrapf(common.ErrMalformedResponse, "next link %q: %v", link, err)
	}
	return b.ResolveReference(l).String(), nil
}
