package logs

import "context"

// ConsoleWriter adapts ConsolePublisher to io.Writer so it can be plugged
// directly into domain.StreamSinks.Stdout/Stderr for a running container.
type ConsoleWriter struct {
	ctx       context.Context
	publisher *ConsolePublisher
	runID     string
}

// NewConsoleWriter returns an io.Writer that publishes every Write call as
// one console chunk for runID.
func NewConsoleWriter(ctx context.Context, publisher *ConsolePublisher, runID string) *ConsoleWriter {
	return &ConsoleWriter{ctx: ctx, publisher: publisher, runID: runID}
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	if err := w.publisher.Publish(w.ctx, w.runID, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
