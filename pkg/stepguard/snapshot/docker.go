package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	sgerrors "github.com/randalmurphal/stepguard/pkg/stepguard/errors"
)

// Image labels written on every committed snapshot.
const (
	LabelAgent = "stepguard.agent"
	LabelStep  = "stepguard.step"
)

// DockerCLI implements Runtime by invoking the docker CLI.
type DockerCLI struct {
	binary         string
	repository     string
	captureTimeout time.Duration
	commandTimeout time.Duration
	runner         Runner
	logger         *slog.Logger
}

// Option configures a DockerCLI.
type Option func(*DockerCLI)

// WithBinary sets the CLI executable. Default: "docker".
func WithBinary(path string) Option {
	return func(d *DockerCLI) {
		if path != "" {
			d.binary = path
		}
	}
}

// WithRepository sets the image repository prefix. Default: "stepguard".
func WithRepository(repo string) Option {
	return func(d *DockerCLI) {
		if repo != "" {
			d.repository = repo
		}
	}
}

// WithCaptureTimeout bounds each commit. Default: 2m.
func WithCaptureTimeout(t time.Duration) Option {
	return func(d *DockerCLI) {
		if t > 0 {
			d.captureTimeout = t
		}
	}
}

// WithCommandTimeout bounds every other command. Default: 30s.
func WithCommandTimeout(t time.Duration) Option {
	return func(d *DockerCLI) {
		if t > 0 {
			d.commandTimeout = t
		}
	}
}

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(d *DockerCLI) {
		if r != nil {
			d.runner = r
		}
	}
}

// WithLogger sets the logger for runtime commands.
func WithLogger(l *slog.Logger) Option {
	return func(d *DockerCLI) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDockerCLI creates a docker-backed Runtime.
func NewDockerCLI(opts ...Option) *DockerCLI {
	d := &DockerCLI{
		binary:         "docker",
		repository:     "stepguard",
		captureTimeout: 2 * time.Minute,
		commandTimeout: 30 * time.Second,
		runner:         ExecRunner{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ResolveContainerID implements Runtime. Only an exact name match counts.
func (d *DockerCLI) ResolveContainerID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty container name", ErrContainerNotFound)
	}
	filter := "name=^/?" + regexp.QuoteMeta(name) + "$"
	out, err := d.run(ctx, "resolve", d.commandTimeout, "ps", "-aq", "--no-trunc", "--filter", filter)
	if err != nil {
		return "", err
	}
	id, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, name)
	}
	return strings.TrimSpace(id), nil
}

// CaptureImage implements Runtime. The image is named
// <repository>/<agent>:step-<label>-<8 hex> so repeated captures of the
// same step never collide.
func (d *DockerCLI) CaptureImage(ctx context.Context, containerID, agentID, label string) (Image, error) {
	name := d.ImageName(agentID, label)
	out, err := d.run(ctx, "commit", d.captureTimeout, "commit",
		"--change", "LABEL "+LabelAgent+"="+quoteLabel(agentID),
		"--change", "LABEL "+LabelStep+"="+quoteLabel(label),
		containerID, name)
	if err != nil {
		return Image{}, err
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return Image{}, &CaptureError{Op: "commit", Err: errors.New("runtime returned no image id")}
	}
	d.logger.Debug("container committed",
		slog.String("container_id", containerID),
		slog.String("image", name),
		slog.String("image_id", id),
	)
	return Image{Name: name, ID: id}, nil
}

// RemoveImage implements Runtime.
func (d *DockerCLI) RemoveImage(ctx context.Context, imageID string) error {
	_, err := d.run(ctx, "remove", d.commandTimeout, "rmi", "-f", imageID)
	return err
}

// RunContainer implements Runtime. An existing container with the same name
// is force-removed first.
func (d *DockerCLI) RunContainer(ctx context.Context, name, imageID string) (string, error) {
	if _, err := d.run(ctx, "remove container", d.commandTimeout, "rm", "-f", name); err != nil {
		var ce *CaptureError
		if !errors.As(err, &ce) || !strings.Contains(ce.Stderr, "No such container") {
			return "", err
		}
	}
	out, err := d.run(ctx, "run", d.commandTimeout, "run", "-d", "--name", name, imageID)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", &CaptureError{Op: "run", Err: errors.New("runtime returned no container id")}
	}
	return id, nil
}

// ImageName builds a unique image reference for one capture.
func (d *DockerCLI) ImageName(agentID, label string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%s:step-%s-%s", d.repository, repoComponent(agentID), tagComponent(label), suffix)
}

// run executes one CLI command bounded by timeout.
func (d *DockerCLI) run(ctx context.Context, op string, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(runCtx, d.binary, args...)
	if err == nil {
		return string(stdout), nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &sgerrors.TimeoutError{Operation: "docker " + op, Duration: timeout}
	}
	d.logger.Warn("runtime command failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.String("stderr", strings.TrimSpace(string(stderr))),
	)
	return "", &CaptureError{Op: op, Stderr: string(stderr), Err: err}
}

var (
	invalidRepo = regexp.MustCompile(`[^a-z0-9._-]+`)
	invalidTag  = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
)

// repoComponent lowercases s and replaces characters docker rejects in
// repository paths.
func repoComponent(s string) string {
	s = strings.Trim(invalidRepo.ReplaceAllString(strings.ToLower(s), "-"), "-._")
	if s == "" {
		return "agent"
	}
	return s
}

func tagComponent(s string) string {
	s = strings.Trim(invalidTag.ReplaceAllString(s, "-"), "-.")
	if s == "" {
		return "x"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return strings.ToLower(s)
}

func quoteLabel(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
