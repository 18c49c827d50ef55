package api

import "github.com/google/uuid"

// UploadAuthorization is a single-use grant to upload one bundle. It is
// consumed exactly once and never persisted.
type UploadAuthorization struct {
	UploadURL string    `json:"upload_url"`
	UploadID  uuid.UUID `json:"upload_id"`
}

// Deployment statuses reported by the platform.
const (
	DeploymentStatusPending   = "pending"
	DeploymentStatusDeploying = "deploying"
	DeploymentStatusSucceeded = "succeeded"
	DeploymentStatusFailed    = "failed"
)

// Deployment is the server-side record created for an uploaded bundle. Its
// lifecycle continues server-side; the client observes it via the event
// stream only.
type Deployment struct {
	ID     uuid.UUID `json:"deployment_id"`
	Status string    `json:"status"`
}

// DeploymentEvent is one observation from the deployment event stream, not
// a stored entity. Duplicates and skipped progress values are expected.
type DeploymentEvent struct {
	Status       string          `json:"status"`
	DeploymentID uuid.UUID       `json:"deployment_id"`
	Step         DeploymentStep  `json:"step"`
	Error        *DeploymentFail `json:"error,omitempty"`
}

// DeploymentStep names the stage a deployment is in and how far along it is.
type DeploymentStep struct {
	Name     string `json:"name"`
	Progress int    `json:"progress"`
}

// DeploymentFail carries the server-reported failure code.
type DeploymentFail struct {
	Code int `json:"code"`
}
