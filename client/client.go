package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

const DefaultTimeout = 10 * time.Second

type State int32

const (
	StateRunning State = iota
	StateStopped
)

// HTTPClient turns backend endpoints into cache fetch functions. It performs a
// single attempt per call; retries belong to the cache's retry policy, which
// needs the response status carried on *types.StatusError to decide.
type HTTPClient struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	client  *fasthttp.Client
	baseURL string
	headers map[string]string
	timeout time.Duration
	state   atomic.Value
}

func NewHTTPClient(ctx context.Context, logger types.Logger, config *types.ClientConfig) *HTTPClient {
	clientCtx, cancel := context.WithCancel(ctx)

	timeout := DefaultTimeout
	var baseURL string
	var headers map[string]string

	if config != nil {
		if config.Timeout > 0 {
			timeout = config.Timeout
		}
		baseURL = config.BaseURL
		headers = config.Headers
	}

	c := &HTTPClient{
		ctx:    clientCtx,
		cancel: cancel,
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		baseURL: baseURL,
		headers: headers,
		timeout: timeout,
	}

	c.state.Store(StateRunning)

	return c
}

// Fetch returns a fetch function that issues method against path and decodes
// the JSON response body.
func (c *HTTPClient) Fetch(method, path string, body interface{}) types.FetchFunc {
	return func(ctx context.Context) (any, error) {
		data, _, err := c.Call(ctx, method, path, body)
		if err != nil {
			return nil, err
		}

		if len(data) == 0 {
			return nil, nil
		}

		var result any
		if err = utils.Unmarshal(data, &result); err != nil {
			return nil, &types.StatusError{
				Message: "failed to decode response",
				Err:     types.Errorf(types.ErrClientResponseInvalid, "%v", err),
			}
		}

		return result, nil
	}
}

// Get is shorthand for a GET fetch, the common case for queries.
func (c *HTTPClient) Get(path string) types.FetchFunc {
	return c.Fetch(fasthttp.MethodGet, path, nil)
}

// Mutation wraps a write endpoint for cache.Mutate.
func (c *HTTPClient) Mutation(method, path string, body interface{}) types.MutationFunc {
	return types.MutationFunc(c.Fetch(method, path, body))
}

// Call performs one request. Non-2xx responses and transport failures are
// returned as *types.StatusError; a zero status means no response arrived.
func (c *HTTPClient) Call(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	if !c.IsRunning() {
		return nil, 0, types.ErrClientNotRunning
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	if body != nil {
		payload, err := utils.Marshal(body)
		if err != nil {
			return nil, 0, types.WrapError(err, "failed to marshal request body")
		}
		req.SetBody(payload)
		req.Header.SetContentType("application/json")
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	var err error
	done := make(chan struct{})

	go func() {
		defer close(done)
		err = c.client.DoTimeout(req, resp, timeout)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// fasthttp cannot abort an in-flight request; wait for DoTimeout so
		// the pooled request and response are not released under it.
		<-done
		return nil, 0, ctx.Err()
	case <-c.ctx.Done():
		<-done
		return nil, 0, types.ErrClientNotRunning
	}

	if err != nil {
		c.logger.Debug("Request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))

		base := types.ErrClientRequestFailed
		if err == fasthttp.ErrTimeout {
			base = types.ErrClientTimeout
		}
		return nil, 0, &types.StatusError{Message: method + " " + path, Err: types.Errorf(base, "%v", err)}
	}

	statusCode := resp.StatusCode()
	responseBody := make([]byte, len(resp.Body()))
	copy(responseBody, resp.Body())

	if statusCode < 200 || statusCode >= 300 {
		c.logger.Debug("Request returned error status",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", statusCode))

		return responseBody, statusCode, types.NewStatusError(statusCode, string(responseBody))
	}

	return responseBody, statusCode, nil
}

func (c *HTTPClient) Close() {
	if !c.state.CompareAndSwap(StateRunning, StateStopped) {
		return
	}

	c.cancel()
	c.client.CloseIdleConnections()

	c.logger.Debug("HTTP client closed")
}

func (c *HTTPClient) IsRunning() bool {
	return c.state.Load().(State) == StateRunning
}
