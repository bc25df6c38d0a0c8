// Package container validates a container image declaration in action
// platform properties and synthesizes an equivalent docker invocation.
package container

import (
	"errors"
	"fmt"
	"strings"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"remoteclient/internal/action"
	"remoteclient/internal/shellquote"
)

// ImageKey is the platform property that names the container image an
// action was executed in.
const ImageKey = "container-image"

// ImagePrefix is the registry URI scheme an image value must carry.
const ImagePrefix = "docker://"

// mountSuffix derives the in-container mount point from the host path.
const mountSuffix = "-docker"

var (
	// ErrNoImage means the platform declares no container image. Callers
	// decide whether a plain, non-containerized replay is acceptable.
	ErrNoImage = errors.New("no container image specified in platform")

	// ErrDuplicateImage means the platform declares the image more than
	// once.
	ErrDuplicateImage = errors.New("multiple container image entries in platform")

	// ErrMalformedImage means the image value lacks the registry prefix.
	ErrMalformedImage = errors.New("malformed container image reference")
)

// Image extracts and validates the container image reference from
// platform properties, stripping the registry prefix.
func Image(platform []action.Property) (string, error) {
	image := ""
	found := false
	for _, prop := range platform {
		if prop.Name != ImageKey {
			continue
		}
		if found {
			return "", fmt.Errorf("%w: %s declared twice", ErrDuplicateImage, ImageKey)
		}
		found = true
		value, ok := strings.CutPrefix(prop.Value, ImagePrefix)
		if !ok {
			return "", fmt.Errorf("%w: %s=%q must use the form %simage-name", ErrMalformedImage, ImageKey, prop.Value, ImagePrefix)
		}
		image = value
	}
	if !found {
		return "", ErrNoImage
	}
	return image, nil
}

// RunCommand builds a shell-safe docker run invocation equivalent to
// executing cmd in the given image, with hostPath mounted as the
// working directory.
func RunCommand(image string, cmd *remoteexecution.Command, hostPath string) string {
	containerPath := hostPath + mountSuffix

	elements := []string{
		"docker", "run",
		"-v", hostPath + ":" + containerPath,
		"-w", containerPath,
	}
	for _, env := range cmd.EnvironmentVariables {
		elements = append(elements, "-e", env.Name+"="+env.Value)
	}
	elements = append(elements, image)
	elements = append(elements, cmd.Arguments...)

	return shellquote.Join(elements)
}
