package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type RequestOptions struct {
	Headers map[string]string
	Timeout time.Duration
	Context context.Context
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Latency    time.Duration
}

// HTTPClient talks JSON to a node's web server
type HTTPClient struct {
	BaseURL     string
	Client      *http.Client
	DefaultOpts RequestOptions
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
		DefaultOpts: RequestOptions{
			Headers: map[string]string{},
			Timeout: 45 * time.Second,
		},
	}
}

func (c *HTTPClient) Call(method, endpoint string, body interface{}, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &c.DefaultOpts
	}

	url := c.BaseURL + endpoint

	var bodyReader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
		Latency:    time.Since(start),
	}, nil
}

func (c *HTTPClient) GET(endpoint string, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodGet, endpoint, nil, opts)
}

func (c *HTTPClient) POST(endpoint string, body interface{}, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodPost, endpoint, body, opts)
}

func UnmarshalBody(resp *Response, target interface{}) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}

	err := json.Unmarshal(resp.Body, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
