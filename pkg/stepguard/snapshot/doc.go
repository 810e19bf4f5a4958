// Package snapshot captures container state for checkpoints.
//
// A Runtime resolves a container by exact name, commits it to a new image,
// and can later run a replacement container from that image. DockerCLI
// implements Runtime by shelling out to the docker CLI through a Runner;
// every command is bounded by a timeout and a failed command surfaces as a
// *CaptureError matching ErrSnapshotFailed.
//
//	rt := snapshot.NewDockerCLI(snapshot.WithCaptureTimeout(time.Minute))
//	id, err := rt.ResolveContainerID(ctx, "sandbox-1")
//	img, err := rt.CaptureImage(ctx, id, "agent-1", "3")
//
// Each capture gets a unique tag, step-<label>-<8 hex>, so images are never
// overwritten.
package snapshot
