package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"edgectl/internal/api"
	"edgectl/internal/bundle"
	"edgectl/internal/deploy"
	"edgectl/internal/secrets"
	"edgectl/internal/upload"
	"edgectl/pkg/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "edgectl",
		Short:         "Deploy edge worker bundles to the store platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newDeployCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newDeployCommand() *cobra.Command {
	var (
		storeHash   string
		accessToken string
		apiHost     string
		projectUUID string
		buildDir    string
		output      string
		secretFlags []string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Bundle the build output, upload it, and track the deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			project, err := uuid.Parse(projectUUID)
			if err != nil {
				return fmt.Errorf("invalid --project-uuid %q: %w", projectUUID, err)
			}

			secretEntries, err := secrets.Parse(secretFlags)
			if err != nil {
				return err
			}

			signer, err := bundle.NewSignerFromEnv()
			if err != nil {
				return err
			}

			shutdown, httpClient, logger, err := telemetry.Init(ctx, "edgectl")
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			ctx, span := otel.Tracer("edgectl").Start(ctx, "deploy")
			defer span.End()
			if id := telemetry.TraceID(ctx); id != "" {
				logger.Printf("INFO: deploy trace %s", id)
			}

			err = deploy.Run(ctx, deploy.Config{
				BuildDir:    buildDir,
				ArchivePath: output,
				ProjectUUID: project,
				Secrets:     secretEntries,
				DryRun:      dryRun,
				API:         api.NewClient(apiHost, storeHash, accessToken, httpClient),
				Uploader:    upload.New(upload.Config{}),
				Signer:      signer,
				Logger:      logger,
				Stdout:      os.Stdout,
			})
			if err != nil {
				span.RecordError(err)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&storeHash, "store-hash", "", "Store hash identifying the target store")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "API access token for the store")
	cmd.Flags().StringVar(&apiHost, "api-host", api.DefaultHost, "Platform API host")
	cmd.Flags().StringVar(&projectUUID, "project-uuid", "", "Project UUID to deploy into")
	cmd.Flags().StringVar(&buildDir, "build-dir", deploy.DefaultBuildDir, "Build output directory to bundle")
	cmd.Flags().StringVar(&output, "output", deploy.DefaultArchivePath, "Destination bundle archive (tar.zst)")
	cmd.Flags().StringArrayVar(&secretFlags, "secret", nil, "Secret as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Build the bundle but skip all remote steps")
	_ = cmd.MarkFlagRequired("store-hash")
	_ = cmd.MarkFlagRequired("access-token")
	_ = cmd.MarkFlagRequired("project-uuid")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the edgectl version",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if v == "dev" {
				if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
					v = info.Main.Version
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "edgectl", v)
		},
	}
}
