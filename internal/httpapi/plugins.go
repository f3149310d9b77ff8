package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Manifest(c *gin.Context) {
	rows, err := h.plugins.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	out := api.PluginManifest{Plugins: make([]api.PluginEntry, 0, len(rows))}
	for _, a := range rows {
		out.Plugins = append(out.Plugins, a.Entry())
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) FetchPlugin(c *gin.Context) {
	art, data, err := h.plugins.Fetch(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}

	c.Header(api.HeaderContentHash, art.ContentHash)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *Handler) PublishPlugin(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxUpload+1))
	if err != nil {
		fail(c, errutil.BadRequest("failed to read plugin body", err))
		return
	}
	if int64(len(data)) > h.maxUpload {
		fail(c, errutil.ValidationFailed(fmt.Sprintf("plugin artifact exceeds %d bytes", h.maxUpload), nil))
		return
	}

	art, changed, err := h.plugins.Publish(c.Request.Context(), c.Param("name"), data)
	if err != nil {
		fail(c, err)
		return
	}

	code := http.StatusOK
	if changed {
		code = http.StatusCreated
	}
	c.JSON(code, art.Entry())
}
