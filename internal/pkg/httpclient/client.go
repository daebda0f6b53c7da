// internal/pkg/httpclient/client.go

package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client 是一个可追踪的、可注入的 HTTP 客户端。
// 支付网关适配器用它访问外部网关的 REST API。
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
}

// NewClient 创建一个新的客户端实例。
// 不在 http.Client 上设置 Timeout，超时完全由每次请求传入的 context 控制。
func NewClient(tracer trace.Tracer) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
	}
}

// Response 携带一次调用的状态码与原始响应体，解码交给调用方。
type Response struct {
	StatusCode int
	Body       []byte
}

// PostForm 发送一个表单编码的 POST 请求。
func (c *Client) PostForm(ctx context.Context, rawURL string, header http.Header, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, header, strings.NewReader(form.Encode()))
}

// Get 发送一个 GET 请求。
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, header, nil)
}

// Delete 发送一个 DELETE 请求。
func (c *Client) Delete(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodDelete, rawURL, header, nil)
}

func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*Response, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	spanName := method + " " + parsedURL.Host
	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if method == http.MethodPost && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	span.SetAttributes(
		attribute.String("http.url", parsedURL.Scheme+"://"+parsedURL.Host+parsedURL.Path),
		attribute.String("http.method", method),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
