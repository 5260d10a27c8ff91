package container

import "io"

// teeWriter returns an io.Writer that always writes to buf, and additionally
// to sink when sink is non-nil. Used to capture full stdout/stderr while
// also streaming live chunks to a caller-provided sink.
func teeWriter(buf io.Writer, sink io.Writer) io.Writer {
	if sink == nil {
		return buf
	}
	return io.MultiWriter(buf, sink)
}
