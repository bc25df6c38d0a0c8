// Package run prepares a local replay of a cached action: it
// materializes the action's inputs and synthesizes the docker command
// line that reproduces the original execution.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"remoteclient/internal/action"
	"remoteclient/internal/cas"
	"remoteclient/internal/container"
)

// ErrOutputPathExists means a declared output path is already present
// under the setup root. Setup never overwrites.
var ErrOutputPathExists = errors.New("output path already exists")

// Setup downloads the action's input root under root, pre-creates the
// declared output locations, and returns the docker command line that
// replays the action. Declared outputs that already exist abort the
// setup.
func Setup(ctx context.Context, cache cas.Cache, act *action.Action, root string) (string, error) {
	image, err := container.Image(act.Platform)
	if err != nil {
		return "", fmt.Errorf("resolving container image: %w", err)
	}

	cmd, err := cas.FetchCommand(ctx, cache, act.CommandDigest)
	if err != nil {
		return "", err
	}

	if err := cache.DownloadDirectory(ctx, root, act.InputRootDigest); err != nil {
		return "", fmt.Errorf("downloading action inputs: %w", err)
	}

	for _, output := range act.OutputFiles {
		file := filepath.Join(root, output)
		if _, err := os.Stat(file); err == nil {
			return "", fmt.Errorf("output file %s: %w", file, ErrOutputPathExists)
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return "", fmt.Errorf("creating parent of output file %s: %w", file, err)
		}
	}
	for _, output := range act.OutputDirectories {
		dir := filepath.Join(root, output)
		if _, err := os.Stat(dir); err == nil {
			return "", fmt.Errorf("output directory %s: %w", dir, ErrOutputPathExists)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating output directory %s: %w", dir, err)
		}
	}

	return container.RunCommand(image, cmd, root), nil
}
