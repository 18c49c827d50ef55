// Package deploy sequences the deployment pipeline: bundle the build
// output, authorize and perform the upload, register the deployment, then
// track it over the event stream until it succeeds or fails.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"edgectl/internal/api"
	"edgectl/internal/bundle"
	"edgectl/internal/secrets"
	"edgectl/internal/stream"
)

// Defaults for the fixed build-output layout: the worker script and assets
// live under DefaultBuildDir, the archive is written alongside it.
const (
	DefaultBuildDir    = "dist"
	DefaultArchivePath = "bundle.tar.zst"
)

// Client is the slice of the platform API the orchestrator drives.
type Client interface {
	AuthorizeUpload(ctx context.Context) (*api.UploadAuthorization, error)
	RegisterDeployment(ctx context.Context, projectUUID, uploadID uuid.UUID, secretEntries []secrets.Entry) (*api.Deployment, error)
	OpenDeploymentEvents(ctx context.Context, deploymentID uuid.UUID) (io.ReadCloser, error)
}

// Uploader transfers the archive to an authorized destination.
type Uploader interface {
	Upload(ctx context.Context, uploadURL, archivePath, sha256Hex string) (bool, error)
}

// Config configures one deploy invocation. The archive named by ArchivePath
// is owned exclusively by the orchestrator for the call's duration.
type Config struct {
	BuildDir    string
	ArchivePath string
	ProjectUUID uuid.UUID
	Secrets     []secrets.Entry
	DryRun      bool

	API      Client
	Uploader Uploader
	Signer   *bundle.Signer
	Observer stream.ProgressObserver
	Logger   *log.Logger

	Now    func() time.Time
	Stdout io.Writer
}

// Run executes the pipeline. In dry-run mode it stops after a successful
// bundle build, lists the skipped remote steps, and returns nil without
// touching the network. Any stage failure aborts the remaining stages.
func Run(ctx context.Context, cfg Config) error {
	if cfg.BuildDir == "" {
		cfg.BuildDir = DefaultBuildDir
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = DefaultArchivePath
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Observer == nil {
		cfg.Observer = &stream.WriterObserver{Out: cfg.Stdout}
	}

	result, err := bundle.Build(ctx, bundle.BuildConfig{
		SourceDir: cfg.BuildDir,
		Output:    cfg.ArchivePath,
		Signer:    cfg.Signer,
		Now:       cfg.Now,
		Stdout:    cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("bundle could not be built: %w", err)
	}

	if cfg.DryRun {
		for _, step := range []string{
			"upload signature generation",
			"bundle upload",
			"deployment creation",
			"deployment status stream",
		} {
			fmt.Fprintf(cfg.Stdout, "Dry run: skipping %s\n", step)
		}
		return nil
	}

	auth, err := cfg.API.AuthorizeUpload(ctx)
	if err != nil {
		return err
	}

	if _, err := cfg.Uploader.Upload(ctx, auth.UploadURL, result.Path, result.SHA256); err != nil {
		return err
	}

	deployment, err := cfg.API.RegisterDeployment(ctx, cfg.ProjectUUID, auth.UploadID, cfg.Secrets)
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Stdout, "created deployment %s\n", deployment.ID)

	events, err := cfg.API.OpenDeploymentEvents(ctx, deployment.ID)
	if err != nil {
		return err
	}
	defer events.Close()

	return stream.NewWatcher(cfg.Observer, cfg.Logger).Watch(ctx, events)
}
