// Package imagebuilder builds a run's container image from its cloned
// repository and pushes it to the configured registry.
package imagebuilder

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/daemon"
)

// RegistrySettings are the credentials used to push built images.
type RegistrySettings struct {
	URL      string
	Username string
	Password string
	Project  string
}

// Builder drives image builds through the local Docker daemon and
// pushes them to the registry through go-containerregistry.
type Builder struct {
	api      *client.Client
	registry RegistrySettings
}

// New constructs a Builder against the local Docker daemon, the same
// FromEnv-plus-negotiation-plus-ping construction the rest of the
// fleet uses for its daemon clients.
func New(registry RegistrySettings) (*Builder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("imagebuilder: connecting to docker daemon: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("imagebuilder: ping docker daemon: %w", err)
	}
	return &Builder{api: cli, registry: registry}, nil
}

// Close releases the daemon connection.
func (b *Builder) Close() error {
	if b == nil || b.api == nil {
		return nil
	}
	return b.api.Close()
}

// Build tars contextDir and builds an image tagged ref from its
// Dockerfile, draining the build response to completion.
func (b *Builder) Build(ctx context.Context, contextDir, ref string) error {
	buildCtx, err := tarDir(contextDir)
	if err != nil {
		return fmt.Errorf("imagebuilder: packing build context: %w", err)
	}
	resp, err := b.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("imagebuilder: build %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("imagebuilder: draining build output for %s: %w", ref, err)
	}
	return nil
}

// push publishes the daemon-resident image tagged ref to the registry.
// The build leaves the image known to the Docker daemon only by tag, so
// it is pulled out of the daemon as a v1.Image before crane can push it.
func (b *Builder) push(ctx context.Context, ref string) error {
	tag, err := name.ParseReference(ref)
	if err != nil {
		return fmt.Errorf("imagebuilder: parsing ref %s: %w", ref, err)
	}
	img, err := daemon.Image(tag, daemon.WithClient(b.api), daemon.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("imagebuilder: loading built image %s from daemon: %w", ref, err)
	}

	opts := []crane.Option{crane.WithContext(ctx)}
	if b.registry.Username != "" {
		opts = append(opts, crane.WithAuth(&authn.Basic{
			Username: b.registry.Username,
			Password: b.registry.Password,
		}))
	}
	if err := crane.Push(img, ref, opts...); err != nil {
		return fmt.Errorf("imagebuilder: push %s: %w", ref, err)
	}
	return nil
}

// PushAndCleanup pushes ref to the registry, then best-effort removes
// the local image and prunes dangling images left behind. Push failure
// is fatal to the run; local remove/prune failure is not.
func (b *Builder) PushAndCleanup(ctx context.Context, ref string) error {
	if err := b.push(ctx, ref); err != nil {
		return err
	}
	_, _ = b.api.ImageRemove(ctx, ref, types.ImageRemoveOptions{Force: true})
	_ = b.PruneDangling(ctx)
	return nil
}

// PruneDangling removes dangling images left behind by failed or
// superseded builds, mirroring a periodic docker image prune -f.
func (b *Builder) PruneDangling(ctx context.Context) error {
	args := filters.NewArgs()
	args.Add("dangling", "true")
	_, err := b.api.ImagesPrune(ctx, args)
	if err != nil {
		return fmt.Errorf("imagebuilder: pruning dangling images: %w", err)
	}
	return nil
}

func tarDir(root string) (io.Reader, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	defer tw.Close()

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}
