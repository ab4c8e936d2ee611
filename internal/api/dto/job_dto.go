package dto

import (
	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// StartJobRequest is the start_job body: the invoice facts, flat.
type StartJobRequest struct {
	invoice.Facts
}

// ProvideInputRequest carries a sparse facts patch or the completion signal.
type ProvideInputRequest struct {
	JobID  string `json:"job_id" binding:"required,uuid"`
	Signal string `json:"signal"`
	invoice.Facts
}

// PaymentCallbackRequest is pushed by the payment gate.
type PaymentCallbackRequest struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
	Status           string `json:"status" binding:"required"`
}

type StatusRequest struct {
	JobID string `form:"job_id" binding:"required,uuid"`
}

type JobDTO struct {
	JobID                  string           `json:"job_id"`
	Status                 string           `json:"status"`
	PaymentStatus          string           `json:"payment_status,omitempty"`
	PaymentCompletionError string           `json:"payment_error,omitempty"`
	Result                 string           `json:"result,omitempty"`
	ResultDigest           string           `json:"result_digest,omitempty"`
	Analysis               string           `json:"analysis,omitempty"`
	Error                  *domain.JobError `json:"error,omitempty"`
	Finalized              bool             `json:"finalized"`
	CreatedAt              string           `json:"created_at"`
	UpdatedAt              string           `json:"updated_at"`
}

type AvailabilityResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// InputField is one entry of the MIP-003 input_data list.
type InputField struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Data        InputFieldData  `json:"data"`
	Validations []InputValidate `json:"validations,omitempty"`
}

type InputFieldData struct {
	Description string `json:"description"`
	Placeholder string `json:"placeholder,omitempty"`
}

type InputValidate struct {
	Validation string `json:"validation"`
	Value      string `json:"value"`
}

type InputSchemaResponse struct {
	InputData []InputField   `json:"input_data"`
	Schema    map[string]any `json:"schema"`
}
