// Package workbench serves the browser UI for a single OCR session:
// pick an image, choose a language, convert, watch the progress and copy the text.
package workbench

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-contrib/expvar"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/johbar/ocr-workbench/internal/config"
	"github.com/johbar/ocr-workbench/internal/imageinput"
	"github.com/johbar/ocr-workbench/internal/languages"
	"github.com/johbar/ocr-workbench/internal/session"
	"github.com/johbar/ocr-workbench/pkg/tesswrap"
	sloggin "github.com/samber/slog-gin"
)

//go:embed index.html
var indexHTML []byte

// LanguageLister returns the language codes the engine has models for
type LanguageLister func(ctx context.Context) ([]string, error)

// Workbench is the HTTP front end of one session.Controller.
// It is also the controller's Observer and relays progress to SSE clients.
type Workbench struct {
	cfg       *config.WorkbenchConfig
	ctrl      *session.Controller
	log       *slog.Logger
	installed LanguageLister
	router    *gin.Engine

	mu          sync.Mutex
	subscribers map[chan session.ProgressEvent]struct{}
}

type imageRequest struct {
	DataURI string `json:"dataUri" binding:"required"`
}

type languageRequest struct {
	Language string `json:"language" binding:"required"`
}

type imageInfo struct {
	Origin    string `json:"origin"`
	MediaType string `json:"mediaType"`
	Size      int    `json:"size"`
}

type stateResponse struct {
	State    session.State         `json:"state"`
	Language string                `json:"language"`
	Backend  string                `json:"backend"`
	Image    *imageInfo            `json:"image"`
	Progress session.ProgressEvent `json:"progress"`
	Result   *session.Result       `json:"result"`
}

// New sets up the routes. The controller has to be initialized
// with the returned Workbench as Observer to get progress events.
func New(cfg *config.WorkbenchConfig, ctrl *session.Controller, logger *slog.Logger, installed LanguageLister) *Workbench {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	wb := &Workbench{
		cfg:         cfg,
		ctrl:        ctrl,
		log:         logger,
		installed:   installed,
		subscribers: make(map[chan session.ProgressEvent]struct{}),
	}
	router := gin.New()
	router.Use(sloggin.New(logger), gin.Recovery())
	router.MaxMultipartMemory = int64(cfg.MaxImageSizeBytes)
	router.GET("/", wb.index)
	api := router.Group("/api")
	api.GET("/state", wb.state)
	api.GET("/languages", wb.languages)
	api.PUT("/language", wb.setLanguage)
	api.POST("/image", wb.uploadImage)
	api.GET("/image", wb.previewImage)
	api.POST("/recognize", wb.recognize)
	api.GET("/progress", wb.progress)
	router.GET("/debug/vars", expvar.Handler())
	wb.router = router
	return wb
}

func (wb *Workbench) Handler() http.Handler { return wb.router }

// OnProgress fans a progress event out to all SSE subscribers.
// Slow subscribers miss events rather than block the recognition.
func (wb *Workbench) OnProgress(ev session.ProgressEvent) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	for ch := range wb.subscribers {
		select {
		case ch <- ev:
		default:
			wb.log.Debug("Dropping progress event for slow subscriber", "phase", ev.Phase)
		}
	}
}

func (wb *Workbench) subscribe() chan session.ProgressEvent {
	ch := make(chan session.ProgressEvent, 32)
	wb.mu.Lock()
	wb.subscribers[ch] = struct{}{}
	wb.mu.Unlock()
	return ch
}

func (wb *Workbench) unsubscribe(ch chan session.ProgressEvent) {
	wb.mu.Lock()
	delete(wb.subscribers, ch)
	wb.mu.Unlock()
}

func (wb *Workbench) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (wb *Workbench) state(c *gin.Context) {
	resp := stateResponse{
		State:    wb.ctrl.State(),
		Language: wb.ctrl.Language(),
		Backend:  tesswrap.BackendName,
		Progress: wb.ctrl.LastProgress(),
	}
	if img, ok := wb.ctrl.Image(); ok {
		resp.Image = &imageInfo{Origin: img.Origin(), MediaType: img.MediaType(), Size: img.Len()}
	}
	if res, ok := wb.ctrl.Result(); ok {
		resp.Result = &res
	}
	c.JSON(http.StatusOK, resp)
}

func (wb *Workbench) languages(c *gin.Context) {
	var installed []string
	if wb.installed != nil {
		var err error
		installed, err = wb.installed(c.Request.Context())
		if err != nil {
			wb.log.Warn("Could not list installed languages", "err", err)
			installed = nil
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"selected":  wb.ctrl.Language(),
		"languages": languages.Catalogue(wb.cfg.Languages, installed),
	})
}

func (wb *Workbench) setLanguage(c *gin.Context) {
	var req languageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := wb.ctrl.SetLanguage(req.Language); err != nil {
		wb.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"language": req.Language})
}

// uploadImage accepts either a multipart form with a "file" field
// or a JSON body with a data URI, as produced by FileReader.readAsDataURL.
func (wb *Workbench) uploadImage(c *gin.Context) {
	maxBytes := wb.cfg.MaxImageSizeBytes
	var img imageinput.Image
	var err error
	if fh, ferr := c.FormFile("file"); ferr == nil {
		if uint64(fh.Size) > maxBytes {
			wb.abort(c, imageinput.ErrTooLarge)
			return
		}
		f, oerr := fh.Open()
		if oerr != nil {
			wb.abort(c, oerr)
			return
		}
		defer f.Close()
		img, err = imageinput.FromReader(f, maxBytes, fh.Filename)
	} else {
		// base64 needs 4 bytes for every 3
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxBytes/3*4+1024))
		var req imageRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(berr, &tooLarge) {
				wb.abort(c, imageinput.ErrTooLarge)
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "expected a multipart file or a data URI: " + berr.Error()})
			return
		}
		img, err = imageinput.FromDataURI(req.DataURI)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err != nil {
		wb.abort(c, err)
		return
	}
	if !img.IsImage() {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": img.MediaType() + " is not a supported image type"})
		return
	}
	if err := wb.ctrl.SetImage(img); err != nil {
		wb.abort(c, err)
		return
	}
	wb.log.Info("Image selected", "image", img.String())
	c.JSON(http.StatusOK, imageInfo{Origin: img.Origin(), MediaType: img.MediaType(), Size: img.Len()})
}

func (wb *Workbench) previewImage(c *gin.Context) {
	img, ok := wb.ctrl.Image()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no image selected"})
		return
	}
	c.Data(http.StatusOK, img.MediaType(), img.Bytes())
}

func (wb *Workbench) recognize(c *gin.Context) {
	res, err := wb.ctrl.Recognize(c.Request.Context())
	if err != nil {
		wb.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// progress streams progress events as server-sent events,
// starting with the last event seen.
func (wb *Workbench) progress(c *gin.Context) {
	ch := wb.subscribe()
	defer wb.unsubscribe(ch)
	c.Header("Cache-Control", "no-cache")
	last := wb.ctrl.LastProgress()
	first := true
	c.Stream(func(w io.Writer) bool {
		ev := last
		if !first {
			select {
			case ev = <-ch:
			case <-c.Request.Context().Done():
				return false
			}
		}
		first = false
		payload, err := json.Marshal(ev)
		if err != nil {
			wb.log.Error("Encoding progress event failed", "err", err)
			return false
		}
		c.SSEvent("progress", string(payload))
		return true
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, session.ErrLanguageLoad), errors.Is(err, session.ErrEngineRuntime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrEngineInit):
		return http.StatusServiceUnavailable
	case errors.Is(err, imageinput.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	}
	return http.StatusInternalServerError
}

func (wb *Workbench) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		wb.log.Error("Request failed", "path", c.FullPath(), "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
