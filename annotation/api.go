package annotation

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/service"
)

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, domain.InvalidArgument("query", "%s must be an integer", key))
		return 0, false
	}
	return v, true
}

func queryPage(c *gin.Context) (service.Page, bool) {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return service.Page{}, false
	}
	size, ok := queryInt(c, "pageSize", service.DefaultPageSize)
	if !ok {
		return service.Page{}, false
	}
	return service.Page{Page: page, PageSize: size}, true
}

func (a *App) handleMe(c *gin.Context) {
	user, err := a.Store.Repos().Users.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleStorageTree lists one backend when ?storage= is given, every backend otherwise
func (a *App) handleStorageTree(c *gin.Context) {
	depth, ok := queryInt(c, "depth", -1)
	if !ok {
		return
	}
	path := c.Query("path")
	if raw := c.Query("storage"); raw != "" {
		kind, err := domain.ParseStorageKind(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a.Adapter.ListDirectoryTree(c.Request.Context(), domain.StorageRef{Kind: kind, Path: path}, depth))
		return
	}
	c.JSON(http.StatusOK, a.Adapter.MergedTree(c.Request.Context(), path, depth))
}

func (a *App) handleListDatasets(c *gin.Context) {
	page, ok := queryPage(c)
	if !ok {
		return
	}
	list, err := a.Datasets.List(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *App) handleCreateDataset(c *gin.Context) {
	var in service.CreateDatasetInput
	if !bind(c, &in) {
		return
	}
	ds, err := a.Datasets.Create(c.Request.Context(), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ds)
}

func (a *App) handleGetDataset(c *gin.Context) {
	ds, err := a.Datasets.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (a *App) handleUpdateDataset(c *gin.Context) {
	var in service.UpdateDatasetInput
	if !bind(c, &in) {
		return
	}
	ds, imported, err := a.Datasets.Update(c.Request.Context(), currentUser(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": ds, "preAnnotationsImported": imported})
}

func (a *App) handleDeleteDataset(c *gin.Context) {
	if err := a.Datasets.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) handleImportDataset(c *gin.Context) {
	var in struct {
		Sources []domain.StorageRef `json:"sources"`
	}
	if !bind(c, &in) {
		return
	}
	ds, err := a.Datasets.Import(c.Request.Context(), currentUser(c), c.Param("id"), in.Sources)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (a *App) handleDatasetImages(c *gin.Context) {
	limit, ok := queryInt(c, "limit", service.DefaultPageSize)
	if !ok {
		return
	}
	var cursor *int
	if c.Query("cursor") != "" {
		v, ok := queryInt(c, "cursor", 0)
		if !ok {
			return
		}
		cursor = &v
	}
	page, err := a.Datasets.Images(c.Request.Context(), c.Param("id"), cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleImportProgress streams import progress as server sent events until the import
// ends or the client goes away
func (a *App) handleImportProgress(c *gin.Context) {
	id := c.Param("id")
	if _, err := a.Store.Repos().Datasets.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	sub, unsubscribe := a.Bus.Subscribe(id)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent("progress", p)
			return !p.Done()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (a *App) handleExportOCR(c *gin.Context) {
	id := c.Param("id")
	samples, err := a.Datasets.ExportOCR(c.Request.Context(), currentUser(c), id, c.Query("question"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="dataset-%s.json"`, id))
	c.JSON(http.StatusOK, samples)
}

func (a *App) handleListTasks(c *gin.Context) {
	page, ok := queryPage(c)
	if !ok {
		return
	}
	scope := service.TaskListScope(c.DefaultQuery("scope", string(service.TasksAssigned)))
	tasks, err := a.Tasks.ListTasks(c.Request.Context(), currentUser(c), scope, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (a *App) handleCreateTasks(c *gin.Context) {
	var in service.CreateTasksInput
	if !bind(c, &in) {
		return
	}
	tasks, err := a.Tasks.CreateTasks(c.Request.Context(), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tasks)
}

func (a *App) handleGetTask(c *gin.Context) {
	task, err := a.Tasks.GetTask(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *App) handleUpdateTask(c *gin.Context) {
	var in service.UpdateTaskInput
	if !bind(c, &in) {
		return
	}
	task, err := a.Tasks.UpdateTask(c.Request.Context(), currentUser(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *App) handleDeleteTask(c *gin.Context) {
	if err := a.Tasks.DeleteTask(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) handleTaskImages(c *gin.Context) {
	images, err := a.Tasks.TaskImages(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, images)
}

func (a *App) handleLastAnnotated(c *gin.Context) {
	imageID, err := a.Tasks.LastAnnotatedImage(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageId": imageID})
}

func (a *App) handleRequestMore(c *gin.Context) {
	n, err := a.Tasks.RequestMore(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": n})
}

func (a *App) handleListAnnotations(c *gin.Context) {
	mine := c.Query("mine") == "true" || c.Query("mine") == "1"
	annotations, err := a.Annotations.List(c.Request.Context(), currentUser(c), c.Param("id"), mine)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, annotations)
}

func (a *App) handleSaveAnnotations(c *gin.Context) {
	var in struct {
		Annotations []service.SubmittedAnnotation `json:"annotations"`
	}
	if !bind(c, &in) {
		return
	}
	res, err := a.Annotations.Save(c.Request.Context(), currentUser(c), c.Param("id"), in.Annotations)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *App) handleAutoLabel(c *gin.Context) {
	view, err := a.Annotations.AutoLabel(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (a *App) handleDeleteImage(c *gin.Context) {
	moved, err := a.Images.Delete(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "movedToTrash": moved})
}
