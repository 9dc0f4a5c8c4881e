package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/controller"
	"github.com/autsav/backgroundRemover/internal/gateway"
	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/session"
	"github.com/autsav/backgroundRemover/internal/usecase"
)

// MaxUploadSize is the default upload limit in bytes.
const MaxUploadSize = 20 << 20

//go:embed templates/*.html
var templatesFS embed.FS

// RemovalService is the audited background removal boundary.
type RemovalService interface {
	RemoveBackground(ctx context.Context, imageData string) (*imageprocessor.Result, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Config tunes the HTTP surface.
type Config struct {
	MaxUploadBytes int64
	SessionTTL     time.Duration
	SecureCookie   bool
}

type removeBackgroundRequest struct {
	ImageData string `json:"imageData" binding:"required"`
}

type pageData struct {
	View          controller.View
	SelectedImage template.URL
	CanProcess    bool
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc RemovalService, sessions *session.Manager, signer *session.TokenSigner, logger *zap.Logger, cfg Config) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = MaxUploadSize
	}
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	router.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	h := &handler{svc: svc, logger: logger.Named("handlers"), cfg: cfg}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/remove-background", h.removeBackground)
	api.GET("/metrics", h.metrics)

	page := router.Group("/", SessionMiddleware(sessions, signer, cfg))
	page.GET("/", h.index)
	page.POST("/upload", h.upload)
	page.POST("/process", h.process)
	page.POST("/fullscreen", h.fullScreen)
	page.GET("/download", h.download)
	api.GET("/state", SessionMiddleware(sessions, signer, cfg), h.state)
}

type handler struct {
	svc    RemovalService
	logger *zap.Logger
	cfg    Config
}

func (h *handler) index(c *gin.Context) {
	view := sessionController(c).View()
	c.HTML(http.StatusOK, "index.html", pageData{
		View:          view,
		SelectedImage: template.URL(view.SelectedImage),
		CanProcess:    view.CanProcess(),
	})
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, sessionController(c).View())
}

func (h *handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > h.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	if err := sessionController(c).SelectFile(c.Request.Context(), src); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) process(c *gin.Context) {
	err := sessionController(c).ProcessImage(c.Request.Context())
	switch {
	case errors.Is(err, controller.ErrNoImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, controller.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	// A surfaced processing failure is rendered by the page from the view.
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) fullScreen(c *gin.Context) {
	ctrl := sessionController(c)
	if c.PostForm("action") == "exit" {
		ctrl.ExitFullScreen()
	} else {
		ctrl.ToggleFullScreen()
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) download(c *gin.Context) {
	saver := controller.SaverFunc(func(filename, contentType string, size int64, r io.Reader) error {
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Header("Content-Type", contentType)
		if size > 0 {
			c.Header("Content-Length", strconv.FormatInt(size, 10))
		}
		c.Status(http.StatusOK)
		_, err := io.Copy(c.Writer, r)
		return err
	})

	err := sessionController(c).DownloadProcessed(c.Request.Context(), saver)
	switch {
	case err == nil:
	case errors.Is(err, controller.ErrNoResult):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case c.Writer.Written():
		_ = c.Error(err)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to fetch processed image"})
	}
}

func (h *handler) removeBackground(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes*4/3+1024)

	var req removeBackgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageData is required"})
		return
	}

	result, err := h.svc.RemoveBackground(c.Request.Context(), req.ImageData)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gateway.ErrRemoveBackground.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
