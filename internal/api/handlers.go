package api

import (
	"bytes"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/pgacloud/manager/internal/descriptor"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/storage"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
)

const maxDescriptorSize = 1 << 20

type handlers struct {
	log   logr.Logger
	orch  Orchestrator
	store *storage.Store
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type CodeResponse struct {
	ID   naming.ClusterID `json:"id"`
	Code int              `json:"code"`
}

// CreateResponse carries the runner codes of the property and population
// hand-over. PopulationCode is zero when no initial population was sent.
type CreateResponse struct {
	ID             naming.ClusterID `json:"id"`
	PropertiesCode int              `json:"properties_code"`
	PopulationCode int              `json:"population_code,omitempty"`
}

type ScaleRequest struct {
	Stage    string `json:"stage" binding:"required,excludes=--"`
	Replicas uint64 `json:"replicas" binding:"required,min=1"`
}

// statusCode maps an error kind to the HTTP status the caller sees.
func statusCode(err error) int {
	switch perrors.KindOf(err) {
	case perrors.KindInvalid:
		return http.StatusBadRequest
	case perrors.KindNotFound:
		return http.StatusNotFound
	case perrors.KindNotImplemented:
		return http.StatusNotImplemented
	case perrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(err, "request failed", "path", c.FullPath())
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error(), Kind: perrors.KindOf(err).String()})
}

func (h *handlers) status(c *gin.Context) {
	c.String(http.StatusOK, "Status: OK")
}

// create stores the uploads of a new cluster, deploys it, then hands the
// properties and population to its runner.
func (h *handlers) create(c *gin.Context) {
	ctx := c.Request.Context()

	configHeader, err := c.FormFile("config")
	if err != nil {
		h.fail(c, perrors.E("upload", perrors.ErrMissingConfig, "multipart field %q: %v", "config", err))
		return
	}
	data, err := readUpload(configHeader)
	if err != nil {
		h.fail(c, perrors.E("upload", perrors.ErrInvalidDescriptor, "%v", err))
		return
	}
	desc, err := descriptor.Parse(data)
	if err != nil {
		h.fail(c, err)
		return
	}

	id := naming.ClusterID(c.PostForm("id"))
	if id == "" {
		id = h.orch.NextID()
	}
	if err = id.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	if err = h.unused(c, id); err != nil {
		h.fail(c, err)
		return
	}

	files, err := h.save(c, id, data)
	if err != nil {
		h.fail(c, err)
		return
	}

	setup := desc.Setup(files)
	setup.ID = id
	if _, err = h.orch.SetupCluster(ctx, setup); err != nil {
		switch perrors.KindOf(err) {
		case perrors.KindInvalid, perrors.KindNotImplemented:
			// nothing was deployed, the uploads have no owner
			if rmErr := h.store.Remove(id); rmErr != nil {
				h.log.Error(rmErr, "unable to remove uploads of a rejected cluster", "cluster", id)
			}
		}
		h.fail(c, err)
		return
	}

	resp := CreateResponse{ID: id}
	if resp.PropertiesCode, err = h.orch.DistributeProperties(ctx, id, desc.Properties); err != nil {
		h.fail(c, err)
		return
	}
	if setup.UseInitialPopulation() {
		if resp.PopulationCode, err = h.orch.InitializePopulation(ctx, id, desc.Population); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// unused fails with ErrClusterExists when id names a known cluster, so its
// uploads are not overwritten.
func (h *handlers) unused(c *gin.Context, id naming.ClusterID) error {
	_, err := h.orch.Status(c.Request.Context(), id)
	switch {
	case err == nil:
		return perrors.E("upload", perrors.ErrClusterExists, "%s", id)
	case perrors.KindOf(err) == perrors.KindNotFound:
		return nil
	default:
		return err
	}
}

// save writes the descriptor and every extra upload to the store and
// returns the stored file names.
func (h *handlers) save(c *gin.Context, id naming.ClusterID, config []byte) ([]string, error) {
	if err := h.store.Save(id, descriptor.FileName, bytes.NewReader(config)); err != nil {
		return nil, err
	}
	files := []string{descriptor.FileName}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read multipart form")
	}
	for _, fh := range form.File["files"] {
		name := filepath.Base(fh.Filename)
		if name == descriptor.FileName {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open upload %s", name)
		}
		err = h.store.Save(id, name, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

func (h *handlers) list(c *gin.Context) {
	clusters, err := h.orch.Clusters(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, clusters)
}

func (h *handlers) get(c *gin.Context) {
	st, err := h.orch.Status(c.Request.Context(), naming.ClusterID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// start holds the request open until the run completes.
func (h *handlers) start(c *gin.Context) {
	id := naming.ClusterID(c.Param("id"))
	code, err := h.orch.StartCluster(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CodeResponse{ID: id, Code: code})
}

// stop stops the run and removes the cluster.
func (h *handlers) stop(c *gin.Context) {
	id := naming.ClusterID(c.Param("id"))
	code, err := h.orch.Teardown(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CodeResponse{ID: id, Code: code})
}

func (h *handlers) scale(c *gin.Context) {
	id := naming.ClusterID(c.Param("id"))
	var req ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, perrors.E("scale", perrors.ErrInvalidStage, "%v", err))
		return
	}
	if err := h.orch.ScaleStage(c.Request.Context(), naming.ServiceName(req.Stage, id), req.Replicas); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) remove(c *gin.Context) {
	if err := h.orch.RemoveCluster(c.Request.Context(), naming.ClusterID(c.Param("id"))); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxDescriptorSize))
}
