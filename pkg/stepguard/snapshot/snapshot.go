package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the capture path.
var (
	// ErrContainerNotFound is returned when no container matches a name.
	ErrContainerNotFound = errors.New("container not found")

	// ErrSnapshotFailed is returned when an image could not be captured,
	// removed, or run. The concrete error is a *CaptureError.
	ErrSnapshotFailed = errors.New("snapshot failed")
)

// Image identifies a captured container image.
type Image struct {
	Name string `json:"image_name"`
	ID   string `json:"image_id"`
}

// SystemSnapshot is the container half of a checkpoint.
type SystemSnapshot struct {
	ContainerName string `json:"container_name"`
	ContainerID   string `json:"container_id"`
	Image         Image  `json:"snapshot_image"`
}

// Runtime is the container runtime the supervisor snapshots through.
type Runtime interface {
	// ResolveContainerID maps an exact container name to its full ID.
	ResolveContainerID(ctx context.Context, name string) (string, error)

	// CaptureImage commits the container's filesystem to a new, uniquely
	// named image. label distinguishes the step in the image tag.
	CaptureImage(ctx context.Context, containerID, agentID, label string) (Image, error)

	// RemoveImage deletes an image.
	RemoveImage(ctx context.Context, imageID string) error

	// RunContainer replaces any container called name with a new one
	// started from imageID and returns its ID.
	RunContainer(ctx context.Context, name, imageID string) (string, error)
}

// CaptureError describes a failed runtime command.
type CaptureError struct {
	Op     string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap exposes both ErrSnapshotFailed and the cause.
func (e *CaptureError) Unwrap() []error {
	return []error{ErrSnapshotFailed, e.Err}
}
