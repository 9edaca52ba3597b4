package api

import (
	"bytes"
	"context"
	"fmt"
	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/orchestrator"
	"github.com/pkg/errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Upload is a named file sent with a deployment.
type Upload struct {
	Name string
	Data io.Reader
}

// Error is a gateway answer outside the 2xx range.
type Error struct {
	Code    int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("manager answered %d", e.Code)
	}
	return fmt.Sprintf("manager answered %d: %s", e.Code, e.Message)
}

// Client calls the gateway of a running manager.
type Client struct {
	base string
	http *http.Client
	log  logr.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{},
		log:  logr.Discard(),
	}
}

func (c *Client) SetLogger(l logr.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) SetHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Deploy uploads a cluster descriptor and its files. An empty id lets the
// manager pick one.
func (c *Client) Deploy(ctx context.Context, id naming.ClusterID, config Upload, files ...Upload) (CreateResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if id != "" {
		if err := mw.WriteField("id", string(id)); err != nil {
			return CreateResponse{}, err
		}
	}
	if err := writeFile(mw, "config", config); err != nil {
		return CreateResponse{}, err
	}
	for _, f := range files {
		if err := writeFile(mw, "files", f); err != nil {
			return CreateResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return CreateResponse{}, err
	}

	var resp CreateResponse
	err := c.do(ctx, http.MethodPost, "/pga", mw.FormDataContentType(), &buf, &resp)
	return resp, err
}

// Start blocks until the run of the cluster completes.
func (c *Client) Start(ctx context.Context, id naming.ClusterID) (int, error) {
	var resp CodeResponse
	err := c.do(ctx, http.MethodPut, clusterPath(id, "start"), "", nil, &resp)
	return resp.Code, err
}

// Stop stops the run and removes the cluster.
func (c *Client) Stop(ctx context.Context, id naming.ClusterID) (int, error) {
	var resp CodeResponse
	err := c.do(ctx, http.MethodPut, clusterPath(id, "stop"), "", nil, &resp)
	return resp.Code, err
}

func (c *Client) Remove(ctx context.Context, id naming.ClusterID) error {
	return c.do(ctx, http.MethodDelete, clusterPath(id, ""), "", nil, nil)
}

func (c *Client) Scale(ctx context.Context, id naming.ClusterID, stage string, replicas uint64) error {
	data, err := json.Marshal(ScaleRequest{Stage: stage, Replicas: replicas})
	if err != nil {
		return errors.Wrap(err, "unable to encode scale request")
	}
	return c.do(ctx, http.MethodPut, clusterPath(id, "scale"), "application/json", bytes.NewReader(data), nil)
}

func (c *Client) List(ctx context.Context) ([]orchestrator.Cluster, error) {
	var clusters []orchestrator.Cluster
	err := c.do(ctx, http.MethodGet, "/pga", "", nil, &clusters)
	return clusters, err
}

func (c *Client) Status(ctx context.Context, id naming.ClusterID) (orchestrator.ClusterStatus, error) {
	var st orchestrator.ClusterStatus
	err := c.do(ctx, http.MethodGet, clusterPath(id, ""), "", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "unable to read manager response")
	}
	c.log.V(1).Info("manager answered", "method", method, "path", path, "code", resp.StatusCode)

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &Error{Code: resp.StatusCode}
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Kind, apiErr.Message = e.Kind, e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "unable to decode manager response")
}

func clusterPath(id naming.ClusterID, action string) string {
	p := "/pga/" + url.PathEscape(string(id))
	if action != "" {
		p += "/" + action
	}
	return p
}

func writeFile(mw *multipart.Writer, field string, u Upload) error {
	w, err := mw.CreateFormFile(field, u.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, u.Data)
	return errors.Wrapf(err, "unable to attach %s", u.Name)
}
