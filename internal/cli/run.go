package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/nexusaddons/releasepipe/internal/artifact"
	"github.com/nexusaddons/releasepipe/internal/build"
	"github.com/nexusaddons/releasepipe/internal/cache"
	"github.com/nexusaddons/releasepipe/internal/metrics"
	"github.com/nexusaddons/releasepipe/internal/pipeline"
	"github.com/nexusaddons/releasepipe/internal/platform"
	"github.com/nexusaddons/releasepipe/internal/release"
	"github.com/nexusaddons/releasepipe/internal/trigger"
	"github.com/nexusaddons/releasepipe/internal/workflow"
)

type runOptions struct {
	workflowPath  string
	event         string
	ref           string
	workDir       string
	platformID    string
	toolchainRoot string
	artifactDir   string
	cacheDir      string
	releaseDir    string
	bucket        string
	bucketPrefix  string
	endpointURL   string
	metricsAddr   string
}

func addRunFlags(fs *flag.FlagSet, opts *runOptions) {
	fs.StringVarP(&opts.workflowPath, "workflow", "w", "release.yaml", "workflow definition file")
	fs.StringVar(&opts.event, "event", string(trigger.EventManual), "trigger event (push, manual)")
	fs.StringVar(&opts.ref, "ref", "", "git ref for push events, e.g. refs/tags/v1.0.0")
	fs.StringVar(&opts.workDir, "workdir", ".", "working directory with the source checkout")
	fs.StringVar(&opts.platformID, "platform", platform.Host().ID(), "target platform as os/arch")
	fs.StringVar(&opts.toolchainRoot, "toolchain-root", "", "toolchain installation root; empty uses the host PATH")
	fs.StringVar(&opts.artifactDir, "artifact-dir", "", "artifact store directory; empty uses a run-scoped temp dir")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "local dependency cache directory")
	fs.StringVar(&opts.releaseDir, "release-dir", "", "publish releases into this directory")
	fs.StringVar(&opts.bucket, "bucket", "", "S3 bucket for the shared cache and published releases")
	fs.StringVar(&opts.bucketPrefix, "bucket-prefix", "", "key prefix inside the bucket")
	fs.StringVar(&opts.endpointURL, "endpoint-url", "", "custom S3 endpoint, e.g. for MinIO")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "prometheus metrics listen address; empty disables")
}

func newRunCmd(verbose *bool, info BuildInfo) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run for a trigger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), *verbose, info, opts)
		},
	}
	addRunFlags(cmd.Flags(), opts)
	return cmd
}

func runPipeline(parentCtx context.Context, verbose bool, info BuildInfo, opts *runOptions) error {
	log := newLogger(verbose)

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)
		listener, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	wf, err := workflow.Load(opts.workflowPath, os.LookupEnv)
	if err != nil {
		return err
	}

	plat, err := platform.Parse(opts.platformID)
	if err != nil {
		return err
	}

	trig := trigger.Trigger{Event: trigger.Event(opts.event), Ref: opts.ref}
	if err := trig.Validate(); err != nil {
		return err
	}

	var provisioner platform.Provisioner = platform.HostProvisioner{}
	if opts.toolchainRoot != "" {
		provisioner = platform.DirProvisioner{Root: opts.toolchainRoot}
	}

	artifactDir := opts.artifactDir
	if artifactDir == "" {
		artifactDir, err = os.MkdirTemp("", "releasepipe-artifacts-*")
		if err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
		defer os.RemoveAll(artifactDir)
	}
	artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: log, Dir: artifactDir})
	if err != nil {
		return err
	}

	var s3Client *s3.Client
	if opts.bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if opts.endpointURL != "" {
				o.BaseEndpoint = &opts.endpointURL
				o.UsePathStyle = true
			}
		})
	}

	cacheStore, err := newCacheStore(log, opts, s3Client)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(opts, s3Client)
	if err != nil {
		return err
	}

	buildStage, err := build.New(&build.Config{
		Logger:      log,
		Workflow:    wf,
		Platform:    plat,
		Provisioner: provisioner,
		Artifacts:   artStore,
		WorkDir:     opts.workDir,
		Cache:       cacheStore,
	})
	if err != nil {
		return err
	}

	releaseStage, err := release.New(&release.Config{
		Logger:    log,
		Gate:      trigger.Gate{TagPattern: wf.Release.TagPattern},
		Artifacts: artStore,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}

	p, err := pipeline.New(&pipeline.Config{Logger: log, Build: buildStage, Release: releaseStage})
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, trig)
	if err != nil {
		return err
	}
	if res.Release != nil && !res.Release.Skipped {
		log.Info("published", "tag", res.Release.Tag, "asset", res.Release.AssetName)
	}
	return nil
}

// newCacheStore picks the cache backend: shared S3 when a bucket is
// configured, a local directory otherwise, or no cache at all.
func newCacheStore(log *slog.Logger, opts *runOptions, s3Client *s3.Client) (build.CacheStore, error) {
	var backend cache.Backend
	switch {
	case s3Client != nil:
		b, err := cache.NewS3Backend(&cache.S3BackendConfig{
			Client: s3Client,
			Bucket: opts.bucket,
			Prefix: opts.bucketPrefix,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	case opts.cacheDir != "":
		b, err := cache.NewLocalBackend(opts.cacheDir)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, nil
	}
	return cache.New(&cache.Config{Logger: log, Backend: backend})
}

func newPublisher(opts *runOptions, s3Client *s3.Client) (release.Publisher, error) {
	if s3Client != nil {
		return release.NewS3Publisher(&release.S3PublisherConfig{
			Client: s3Client,
			Bucket: opts.bucket,
			Prefix: opts.bucketPrefix,
		})
	}
	dir := opts.releaseDir
	if dir == "" {
		dir = "releases"
	}
	return release.DirPublisher{Dir: dir}, nil
}
