// Package runner talks to the runner service of a cluster over its HTTP
// contract.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultPort is where the runner listens.
const DefaultPort = 5000

const (
	statusPath     = "/status"
	populationPath = "/population"
	propertiesPath = "/properties"
	startPath      = "/start"
	stopPath       = "/stop"

	defaultCallTimeout = 30 * time.Second
	maxRetries         = 4
	maxResponseBody    = 64 << 10
)

// StatusError is a runner answer outside the 2xx range.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runner answered %d on %s: %s", e.Code, e.Path, e.Body)
}

// Client calls one runner. Short calls are retried on transport errors; the
// start call is not, and has no timeout of its own.
type Client struct {
	base        string
	http        *http.Client
	log         logr.Logger
	callTimeout time.Duration
	newBackOff  func() backoff.BackOff
}

func New(baseURL string) *Client {
	return &Client{
		base:        strings.TrimSuffix(baseURL, "/"),
		http:        &http.Client{},
		log:         logr.Discard(),
		callTimeout: defaultCallTimeout,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}
}

// URL is the base address of the runner of a cluster.
func URL(id naming.ClusterID, port int) string {
	return fmt.Sprintf("http://%s:%d", naming.ServiceName(naming.RoleRunner, id), port)
}

func (c *Client) SetLogger(l logr.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) SetHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) SetBackOff(f func() backoff.BackOff) *Client {
	c.newBackOff = f
	return c
}

func (c *Client) SetCallTimeout(d time.Duration) *Client {
	c.callTimeout = d
	return c
}

// Status reports whether the runner answers its health endpoint with "OK".
func (c *Client) Status(ctx context.Context) (bool, error) {
	code, body, err := c.call(ctx, http.MethodGet, statusPath, nil, false)
	if err != nil {
		return false, err
	}
	return code == http.StatusOK && strings.HasSuffix(strings.TrimSpace(body), "OK"), nil
}

// InitializePopulation sends the initial population.
func (c *Client) InitializePopulation(ctx context.Context, population interface{}) (int, error) {
	return c.send(ctx, http.MethodPost, populationPath, population)
}

// DistributeProperties sends the algorithm properties.
func (c *Client) DistributeProperties(ctx context.Context, properties interface{}) (int, error) {
	return c.send(ctx, http.MethodPut, propertiesPath, properties)
}

// Start blocks until the runner reports the run as complete.
func (c *Client) Start(ctx context.Context) (int, error) {
	code, body, err := c.do(ctx, http.MethodPut, startPath, nil)
	if err != nil {
		return 0, errors.Wrap(err, "unable to start runner")
	}
	if code >= http.StatusMultipleChoices {
		return code, &StatusError{Path: startPath, Code: code, Body: body}
	}
	return code, nil
}

// Stop asks the runner to stop and returns its status code as is. Only a
// transport failure is an error.
func (c *Client) Stop(ctx context.Context) (int, error) {
	code, _, err := c.call(ctx, http.MethodPut, stopPath, nil, true)
	return code, err
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to encode %s payload", path)
	}
	code, body, err := c.call(ctx, method, path, data, true)
	if err != nil {
		return code, err
	}
	c.log.Info("runner answered", "path", path, "code", code)
	if code >= http.StatusMultipleChoices {
		return code, &StatusError{Path: path, Code: code, Body: body}
	}
	return code, nil
}

// call is a bounded request, retried on transport errors when retry is set.
func (c *Client) call(ctx context.Context, method, path string, payload []byte, retry bool) (int, string, error) {
	var (
		code int
		body string
	)
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		var err error
		code, body, err = c.do(callCtx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil || !retry {
				return backoff.Permanent(err)
			}
			c.log.Info("runner call failed, retrying", "path", path, "error", err.Error())
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return 0, "", errors.Wrapf(err, "%s %s", method, path)
	}
	return code, body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, string, error) {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, "", err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", errors.Wrap(err, "unable to read runner response")
	}
	return resp.StatusCode, string(b), nil
}
