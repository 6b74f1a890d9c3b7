// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/venlock/orchid/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	Definition  *models.GraphDefinition `json:"definition"  validate:"required"`
	Config      map[string]any          `json:"config,omitempty"`
	Owner       string                  `json:"owner"`
}

// UpdateWorkflowRequest represents the request body for updating a draft
// workflow. All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string                 `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                 `json:"description,omitempty"`
	Definition  *models.GraphDefinition `json:"definition,omitempty"`
	Config      map[string]any          `json:"config,omitempty"`
}

// CreateTriggerRequest represents the request body for attaching a trigger
// to a workflow.
type CreateTriggerRequest struct {
	Name   string         `json:"name"   validate:"required,min=1"`
	Type   string         `json:"type"   validate:"required,oneof=manual schedule webhook event api"`
	Config map[string]any `json:"config,omitempty"`
}

// StartInstanceRequest represents the request body for manually starting a
// workflow instance.
type StartInstanceRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// CancelInstanceRequest represents the request body for cancelling an
// instance.
type CancelInstanceRequest struct {
	Reason string `json:"reason,omitempty"`
}
