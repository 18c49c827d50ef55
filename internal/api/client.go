// Package api is the client for the platform's store API: upload
// authorizations, deployment registration, and the deployment event stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"edgectl/internal/fault"
	"edgectl/internal/secrets"
)

// DefaultHost is the platform API used when --api-host is not supplied.
const DefaultHost = "https://api.edgestore.dev"

// Client issues authenticated requests against the platform API.
type Client struct {
	host        string
	storeHash   string
	accessToken string
	http        *http.Client
}

// NewClient builds a Client for the given store. A nil httpClient falls
// back to a 30s-timeout default; callers streaming events should pass a
// client without a timeout.
func NewClient(host, storeHash, accessToken string, httpClient *http.Client) *Client {
	if host == "" {
		host = DefaultHost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		host:        strings.TrimRight(host, "/"),
		storeHash:   storeHash,
		accessToken: accessToken,
		http:        httpClient,
	}
}

// AuthorizeUpload exchanges the store credentials for a one-time upload
// destination and identifier.
func (c *Client) AuthorizeUpload(ctx context.Context) (*UploadAuthorization, error) {
	url := fmt.Sprintf("%s/v1/stores/%s/uploads", c.host, c.storeHash)
	resp, err := c.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp, "generate upload signature")
	}

	var auth UploadAuthorization
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fault.Wrap(fault.API, err, "decode upload authorization")
	}
	if auth.UploadURL == "" {
		return nil, fault.New(fault.API, "upload authorization missing upload_url")
	}
	return &auth, nil
}

// RegisterDeployment tells the platform to start processing the uploaded
// bundle and returns the deployment record to track.
func (c *Client) RegisterDeployment(ctx context.Context, projectUUID, uploadID uuid.UUID, secretEntries []secrets.Entry) (*Deployment, error) {
	body := map[string]any{
		"upload_id": uploadID,
	}
	if len(secretEntries) > 0 {
		body["secrets"] = secretEntries
	}

	url := fmt.Sprintf("%s/v1/stores/%s/projects/%s/deployments", c.host, c.storeHash, projectUUID)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp, "create deployment")
	}

	var deployment Deployment
	if err := json.NewDecoder(resp.Body).Decode(&deployment); err != nil {
		return nil, fault.Wrap(fault.API, err, "decode deployment")
	}
	if deployment.ID == uuid.Nil {
		return nil, fault.New(fault.API, "deployment response missing deployment_id")
	}
	return &deployment, nil
}

// OpenDeploymentEvents opens the long-lived event stream for a deployment.
// The caller owns the returned body and must close it.
func (c *Client) OpenDeploymentEvents(ctx context.Context, deploymentID uuid.UUID) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v1/stores/%s/deployments/%s/events", c.host, c.storeHash, deploymentID)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp, "open deployment events")
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Store-Hash", c.storeHash)
	req.Header.Set("X-Access-Token", c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.API, err, "%s %s", method, url)
	}
	return resp, nil
}

// decodeAPIError turns a non-success response into an api-kind fault. A
// parseable {"errors":[{"message":...}]} body yields the structured message
// list; anything else falls back to the raw body.
func decodeAPIError(resp *http.Response, operation string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		details := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			details = append(details, e.Message)
		}
		return &fault.Error{
			Kind:    fault.API,
			Message: fmt.Sprintf("%s failed (status %d)", operation, resp.StatusCode),
			Details: details,
		}
	}

	return fault.New(fault.API, "%s failed (status %d): %s",
		operation, resp.StatusCode, strings.TrimSpace(string(data)))
}
