package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/caplet-dev/caplet/internal/config"
	"github.com/caplet-dev/caplet/internal/kernel"
	"github.com/caplet-dev/caplet/internal/plugin"
	"github.com/caplet-dev/caplet/internal/values"
)

// newKernel builds a kernel from the configured file.
func newKernel(ctx context.Context) (*kernel.Kernel, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return kernel.New(ctx, cfg, nil)
}

// loadManifest reads a plugin manifest and its bytecode. Relative
// source paths resolve against the manifest's directory.
func loadManifest(path string) (*plugin.Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read manifest %s: %w", path, err)
	}
	manifest, err := plugin.ParseManifest(data)
	if err != nil {
		return nil, nil, err
	}

	if inline, err := manifest.Source.InlineBytes(); err != nil {
		return nil, nil, fmt.Errorf("manifest %s: %w", path, err)
	} else if inline != nil {
		return manifest, inline, nil
	}

	source := manifest.Source.Path
	if !filepath.IsAbs(source) {
		source = filepath.Join(filepath.Dir(path), source)
	}
	bytecode, err := os.ReadFile(source)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read plugin bytecode %s: %w", source, err)
	}
	return manifest, bytecode, nil
}

// loadPlugins loads every manifest concurrently and starts each plugin.
func loadPlugins(ctx context.Context, k *kernel.Kernel, manifestPaths []string) (map[string]values.PluginID, error) {
	type loaded struct {
		name string
		id   values.PluginID
	}

	results := make(chan loaded, len(manifestPaths))
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range manifestPaths {
		g.Go(func() error {
			manifest, bytecode, err := loadManifest(path)
			if err != nil {
				return err
			}
			id, err := k.Plugins.LoadPlugin(gctx, manifest, bytecode)
			if err != nil {
				return err
			}
			if err := k.Plugins.Start(id); err != nil {
				return err
			}
			results <- loaded{name: manifest.Name, id: id}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	out := make(map[string]values.PluginID, len(manifestPaths))
	for l := range results {
		out[l.name] = l.id
	}
	return out, nil
}
