//go:build !linux

package container

// On non-Linux hosts (development laptops driving Docker Desktop) the
// engine socket is proxied and not directly statable; defer to the CLI.
func dockerSocketAccessible() bool {
	return true
}
