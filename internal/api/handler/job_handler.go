package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/cuongbtq/invoicegen/internal/api/dto"
	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// StartJob handles POST /start_job
// Creates a job in awaiting_payment and returns the payment reference.
func (h *JobHandler) StartJob(c *gin.Context) {
	h.logger.Info("StartJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	raw, err := c.GetRawData()
	if err != nil {
		h.logger.Error("Failed to read request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	if err := invoice.ValidateFactsDocument(raw); err != nil {
		h.logger.Warn("Request body does not match facts schema", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	var req dto.StartJobRequest
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	res, err := h.jobs.Create(c.Request.Context(), req.Facts)
	if err != nil {
		h.writeError(c, "Failed to create job", err)
		return
	}

	resp := gin.H{}
	for k, v := range res.Metadata {
		resp[k] = v
	}
	resp["status"] = "success"
	resp["job_id"] = res.JobID
	resp["payment_reference"] = res.PaymentReference

	c.JSON(http.StatusOK, resp)
}

// GetStatus handles GET /status?job_id=
func (h *JobHandler) GetStatus(c *gin.Context) {
	var req dto.StatusRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "job_id must be a valid UUID"})
		return
	}

	h.logger.Info("GetStatus called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", req.JobID),
	)

	job, err := h.jobs.GetStatus(c.Request.Context(), req.JobID)
	if err != nil {
		h.writeError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ProvideInput handles POST /provide_input
// Patches the facts of a job, re-running the pipeline for completed jobs,
// or finalizes a completed job when signal is "done".
func (h *JobHandler) ProvideInput(c *gin.Context) {
	h.logger.Info("ProvideInput called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.ProvideInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	job, err := h.jobs.ProvideInput(c.Request.Context(), req.JobID, req.Facts, req.Signal)
	if err != nil {
		h.writeError(c, "Failed to provide input", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// PaymentCallback handles POST /payment_callback
// Accepts a pushed payment status update from the gate.
func (h *JobHandler) PaymentCallback(c *gin.Context) {
	var req dto.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	h.logger.Info("PaymentCallback called",
		slog.String("payment_reference", req.PaymentReference),
		slog.String("payment_status", req.Status),
	)

	jobID, err := h.jobs.HandlePaymentEvent(c.Request.Context(), req.PaymentReference, req.Status)
	if err != nil {
		h.writeError(c, "Failed to handle payment event", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "job_id": jobID})
}

// Availability handles GET /availability
func (h *JobHandler) Availability(c *gin.Context) {
	c.JSON(http.StatusOK, dto.AvailabilityResponse{
		Status:  "available",
		Message: "The server is running smoothly.",
	})
}

// InputSchema handles GET /input_schema
func (h *JobHandler) InputSchema(c *gin.Context) {
	fields := make([]dto.InputField, 0, len(invoice.FactFields))
	for _, f := range invoice.FactFields {
		field := dto.InputField{
			ID:   f.ID,
			Type: "string",
			Name: f.Label,
			Data: dto.InputFieldData{Description: f.Description},
		}
		if f.Required {
			field.Validations = []dto.InputValidate{{Validation: "min", Value: "1"}}
		} else {
			field.Validations = []dto.InputValidate{{Validation: "optional", Value: "true"}}
		}
		fields = append(fields, field)
	}

	c.JSON(http.StatusOK, dto.InputSchemaResponse{
		InputData: fields,
		Schema:    invoice.FactsSchema(),
	})
}

// writeError maps orchestrator errors onto HTTP statuses.
func (h *JobHandler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobTerminal),
		errors.Is(err, domain.ErrJobFinalized),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyClaimed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPaymentUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
	} else {
		h.logger.Warn(msg, slog.String("error", err.Error()))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	return dto.JobDTO{
		JobID:                  job.ID,
		Status:                 string(job.Status),
		PaymentStatus:          job.PaymentStatus,
		PaymentCompletionError: job.PaymentCompletionError,
		Result:                 job.Result,
		ResultDigest:           job.ResultDigest,
		Analysis:               job.Analysis,
		Error:                  job.Error,
		Finalized:              job.Finalized,
		CreatedAt:              job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              job.UpdatedAt.Format(time.RFC3339),
	}
}
