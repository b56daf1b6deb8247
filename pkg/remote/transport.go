package remote

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/metakernel/pkg/buildinfo"
)

// HTTPFetcher abstracts HTTP calls for testability
type HTTPFetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPFetcher wraps http.Client for production use and stamps the
// User-Agent header on every request.
type RealHTTPFetcher struct {
	client *http.Client
}

// NewRealHTTPFetcher creates a production HTTP fetcher
func NewRealHTTPFetcher(client *http.Client) HTTPFetcher {
	return &RealHTTPFetcher{client: client}
}

func (f *RealHTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", buildinfo.UserAgent())
	}
	return f.client.Do(req)
}

// NewHTTPClient returns a client suited to archive traffic. There is no
// overall client timeout because kernel transfers can be large; callers bound
// each request with a context deadline instead. headerTimeout caps the wait
// for response headers so an unresponsive host fails fast.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = time.Minute
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// MockHTTPFetcher simulates HTTP responses for testing
type MockHTTPFetcher struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	errors    map[string]error
	calls     map[string]int
}

type mockResponse struct {
	status int
	body   string
	header http.Header
}

// NewMockHTTPFetcher creates a mock HTTP fetcher
func NewMockHTTPFetcher() *MockHTTPFetcher {
	return &MockHTTPFetcher{
		responses: make(map[string]mockResponse),
		errors:    make(map[string]error),
		calls:     make(map[string]int),
	}
}

// AddResponse registers a mock response for a URL
func (m *MockHTTPFetcher) AddResponse(urlStr string, statusCode int, body string) {
	m.AddResponseWithHeader(urlStr, statusCode, body, nil)
}

// AddResponseWithHeader registers a mock response carrying headers
func (m *MockHTTPFetcher) AddResponseWithHeader(urlStr string, statusCode int, body string, header http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if header == nil {
		header = make(http.Header)
	}
	m.responses[urlStr] = mockResponse{status: statusCode, body: body, header: header}
}

// AddError registers a mock error for a URL
func (m *MockHTTPFetcher) AddError(urlStr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[urlStr] = err
}

// Calls returns how many requests were made for a URL
func (m *MockHTTPFetcher) Calls(urlStr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[urlStr]
}

func (m *MockHTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	urlStr := req.URL.String()

	m.mu.Lock()
	m.calls[urlStr]++
	err, hasErr := m.errors[urlStr]
	resp, hasResp := m.responses[urlStr]
	m.mu.Unlock()

	if hasErr {
		return nil, err
	}
	if !hasResp {
		resp = mockResponse{status: http.StatusNotFound, body: "Not Found", header: make(http.Header)}
	}
	parsedURL, _ := url.Parse(urlStr)
	return &http.Response{
		StatusCode: resp.status,
		Status:     http.StatusText(resp.status),
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     resp.header.Clone(),
		Request:    &http.Request{URL: parsedURL},
	}, nil
}
