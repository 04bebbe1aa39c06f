package annotation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/lewtec/labelhub/internal/events"
	"github.com/lewtec/labelhub/internal/ocr"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/service"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
)

// App wires the services behind the HTTP surface
type App struct {
	Config      *Config
	Store       *repository.Store
	Adapter     *storage.Adapter
	Bus         *events.ImportBus
	Datasets    *service.DatasetService
	Tasks       *service.TaskService
	Annotations *service.AnnotationService
	Images      *service.ImageService
	logger      *zap.Logger
}

// NewStorageAdapter registers the three backends described by cfg
func NewStorageAdapter(cfg *Config, logger *zap.Logger) (*storage.Adapter, error) {
	local := cfg.LocalOptions()
	imagesDir, err := filepath.Abs(local.ImagesDir)
	if err != nil {
		return nil, fmt.Errorf("while resolving images dir '%s': %w", local.ImagesDir, err)
	}
	trashDir, err := filepath.Abs(local.TrashDir)
	if err != nil {
		return nil, fmt.Errorf("while resolving trash dir '%s': %w", local.TrashDir, err)
	}
	local.ImagesDir, local.TrashDir = imagesDir, trashDir

	return storage.NewAdapter(logger,
		storage.NewLocalBackend(osfs.New("/"), local, logger),
		storage.NewAListBackend(cfg.AListOptions(), logger),
		storage.NewS3Backend(cfg.S3Options(), logger),
	), nil
}

// NewApp builds the services. A nil producer disables OCR auto labeling.
func NewApp(cfg *Config, store *repository.Store, adapter *storage.Adapter, producer ocr.Producer, logger *zap.Logger) *App {
	bus := events.NewBus[events.ImportProgress](events.DefaultBuffer)
	return &App{
		Config:   cfg,
		Store:    store,
		Adapter:  adapter,
		Bus:      bus,
		Datasets: service.NewDatasetService(store, adapter, bus, logger),
		Tasks:    service.NewTaskService(store, adapter, nil, logger),
		Annotations: service.NewAnnotationService(store, adapter, service.AnnotationOptions{
			OCR:        producer,
			InviteCode: cfg.Auth.InviteCode,
		}, logger),
		Images: service.NewImageService(store, adapter, logger),
		logger: logger.Named("http"),
	}
}

// Close releases the progress subscribers
func (a *App) Close() {
	a.Bus.Close()
}

func (a *App) GetHTTPHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), HTTPLogger(a.logger), corsMiddleware(a.Config.Server.AllowedOrigins), localizerMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/pre", a.handlePreAnnotation)

	textAuth := authMiddleware(a.Config.Auth.Secret, func(c *gin.Context, status int, msg string) { c.String(status, msg) })
	r.GET("/img/:id", textAuth, a.handleImage)
	r.GET("/help/:datasetId", textAuth, a.handleHelp)

	api := r.Group("/api")
	api.Use(authMiddleware(a.Config.Auth.Secret, jsonError))
	{
		api.GET("/me", a.handleMe)
		api.GET("/storage/tree", a.handleStorageTree)

		api.GET("/datasets", a.handleListDatasets)
		api.POST("/datasets", a.handleCreateDataset)
		api.GET("/datasets/:id", a.handleGetDataset)
		api.PATCH("/datasets/:id", a.handleUpdateDataset)
		api.DELETE("/datasets/:id", a.handleDeleteDataset)
		api.POST("/datasets/:id/import", a.handleImportDataset)
		api.GET("/datasets/:id/images", a.handleDatasetImages)
		api.GET("/datasets/:id/progress", a.handleImportProgress)
		api.GET("/datasets/:id/export", a.handleExportOCR)

		api.GET("/tasks", a.handleListTasks)
		api.POST("/tasks", a.handleCreateTasks)
		api.GET("/tasks/:id", a.handleGetTask)
		api.PATCH("/tasks/:id", a.handleUpdateTask)
		api.DELETE("/tasks/:id", a.handleDeleteTask)
		api.GET("/tasks/:id/images", a.handleTaskImages)
		api.GET("/tasks/:id/last", a.handleLastAnnotated)
		api.POST("/tasks/:id/more", a.handleRequestMore)

		api.GET("/images/:id/annotations", a.handleListAnnotations)
		api.PUT("/images/:id/annotations", a.handleSaveAnnotations)
		api.POST("/images/:id/autolabel", a.handleAutoLabel)
		api.DELETE("/images/:id", a.handleDeleteImage)
	}
	return r
}

// Serve listens on the configured address until ctx is done
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.GetHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	a.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("while shutting down server: %w", err)
	}
	return nil
}
