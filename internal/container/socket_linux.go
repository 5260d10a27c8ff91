//go:build linux

package container

import "golang.org/x/sys/unix"

const dockerSocketPath = "/var/run/docker.sock"

// dockerSocketAccessible reports whether the engine socket exists and is
// writable by this process — a fast pre-check that turns a missing or
// permission-broken engine into an immediate "docker unavailable" instead
// of a spawned-and-failed `docker run`.
func dockerSocketAccessible() bool {
	return unix.Access(dockerSocketPath, unix.W_OK) == nil
}
