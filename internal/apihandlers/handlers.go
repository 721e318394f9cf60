package apihandlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/app"
	"pipejob/internal/jobstore"
	"pipejob/internal/models"
	"pipejob/internal/pipeline"
	"pipejob/internal/store"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{App: a}
}

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	JobType   string            `json:"job_type" binding:"required"`
	Container string            `json:"container"`
	User      string            `json:"user"`
	Params    map[string]string `json:"params"`
}

// PipelineInfo describes one registered job type and the tasks it runs.
type PipelineInfo struct {
	JobType     string   `json:"job_type"`
	Pipeline    string   `json:"pipeline"`
	Description string   `json:"description,omitempty"`
	Tasks       []string `json:"tasks"`
	Splittable  bool     `json:"splittable"`
	Interrupt   bool     `json:"interruptible"`
}

// --- Jobs ---

func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	filter, err := parseStatusFilter(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	recs, err := h.App.Store.ListStatuses(c.Request.Context(), filter)
	if err != nil {
		Internal(c, fmt.Sprintf("ListJobsHandler: failed to list jobs: %v", err))
		return
	}
	if recs == nil {
		recs = []*models.StatusRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

func parseStatusFilter(c *gin.Context) (models.StatusFilter, error) {
	filter := models.StatusFilter{
		Container:  c.Query("container"),
		Status:     c.Query("status"),
		ParentGUID: c.Query("parent"),
		Limit:      20,
	}
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return filter, fmt.Errorf("invalid limit: %s", l)
		}
		filter.Limit = parsed
	}
	if o := c.Query("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return filter, fmt.Errorf("invalid offset: %s", o)
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func (h *APIHandler) GetJobHandler(c *gin.Context) {
	rec, ok := h.statusOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// statusOrAbort loads the status record named by the :id path parameter,
// writing the error response itself when that fails.
func (h *APIHandler) statusOrAbort(c *gin.Context) (*models.StatusRecord, bool) {
	id := c.Param("id")
	rec, err := h.App.Store.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(c, fmt.Sprintf("Job not found with ID: %s", id))
		} else {
			Internal(c, fmt.Sprintf("failed to load job %s: %v", id, err))
		}
		return nil, false
	}
	return rec, true
}

func (h *APIHandler) SubmitJobHandler(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	info := pipeline.BackgroundInfo{Container: req.Container, User: req.User, URL: c.Request.URL.String()}
	job, err := h.App.Submit(c.Request.Context(), req.JobType, info, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrUnknownJobType), errors.Is(err, pipeline.ErrUnknownPipeline),
			errors.Is(err, pipeline.ErrInvalidParam):
			BadRequest(c, err.Error())
		case errors.Is(err, jobstore.ErrNoQueue):
			Conflict(c, err.Error())
		default:
			Internal(c, fmt.Sprintf("SubmitJobHandler: failed to submit job: %v", err))
		}
		return
	}
	log.Infof("API SubmitJob: job_guid=%s, job_type=%q", job.GUID(), req.JobType)

	rec := job.StatusRecord()
	if stored, err := h.App.Store.GetStatus(c.Request.Context(), job.GUID()); err == nil {
		rec = *stored
	}
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

func (h *APIHandler) RetryJobHandler(c *gin.Context) {
	rec, ok := h.statusOrAbort(c)
	if !ok {
		return
	}
	if err := h.App.Jobs.RetryStatus(c.Request.Context(), rec); err != nil {
		switch {
		case errors.Is(err, models.ErrNotRetryable):
			Conflict(c, err.Error())
		case errors.Is(err, pipeline.ErrJobNotFound):
			NotFound(c, err.Error())
		default:
			Internal(c, fmt.Sprintf("RetryJobHandler: failed to retry job %s: %v", rec.JobGUID, err))
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"job_guid": rec.JobGUID, "retried": true}})
}

func (h *APIHandler) CancelJobHandler(c *gin.Context) {
	rec, ok := h.statusOrAbort(c)
	if !ok {
		return
	}
	if models.IsTerminal(rec.Status) {
		Conflict(c, fmt.Sprintf("job %s is already %s", rec.JobGUID, rec.Status))
		return
	}
	if err := h.App.Jobs.Cancel(c.Request.Context(), rec.JobGUID); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrNotCanceled):
			Conflict(c, err.Error())
		case errors.Is(err, pipeline.ErrJobNotFound):
			NotFound(c, err.Error())
		default:
			Internal(c, fmt.Sprintf("CancelJobHandler: failed to cancel job %s: %v", rec.JobGUID, err))
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"job_guid": rec.JobGUID, "cancelled": true}})
}

// --- Pipelines ---

func (h *APIHandler) ListPipelinesHandler(c *gin.Context) {
	reg := h.App.Service.Registry
	out := []PipelineInfo{}
	for _, jt := range reg.JobTypes() {
		p, err := reg.Pipeline(jt.Pipeline())
		if err != nil {
			log.Warnf("Job type %s names a missing pipeline: %v", jt.Name(), err)
			continue
		}
		info := PipelineInfo{
			JobType:     jt.Name(),
			Pipeline:    p.Name(),
			Description: p.Description(),
			Splittable:  jt.Splittable(),
			Interrupt:   jt.CanInterrupt(),
		}
		for _, id := range p.Progression() {
			info.Tasks = append(info.Tasks, id.String())
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// --- Health ---

func (h *APIHandler) HealthHandler(c *gin.Context) {
	if err := h.App.Store.Ping(c.Request.Context()); err != nil {
		Unavailable(c, "database: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
