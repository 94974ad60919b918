package ingestion

import (
	"context"
	"errors"
	"fmt"

	"TroveLedger/internal/core"
)

// ErrMalformedCommand wraps wire JSON that does not decode into a command.
var ErrMalformedCommand = errors.New("malformed command")

// AdminIngestService injects commands outside NATS, for admin operations
// and manual corrections. High-throughput producers use NATS.
type AdminIngestService struct {
	cmdChan chan<- Command
}

// InjectResult is an injected command and its core output. Output is nil
// when the command was a duplicate.
type InjectResult struct {
	Command Command
	Output  *core.CoreOutput
}

func NewAdminIngestService(cmdChan chan<- Command) *AdminIngestService {
	return &AdminIngestService{cmdChan: cmdChan}
}

// Inject decodes a wire-JSON command, submits it and waits for the core's
// verdict. The returned error is the decode error or the core rejection;
// on a rejection the result still carries the decoded command.
func (s *AdminIngestService) Inject(ctx context.Context, eventType string, data []byte) (*InjectResult, error) {
	cmd, err := NewCommand(eventType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	reply := make(chan Outcome, 1)
	cmd.Reply = reply

	select {
	case s.cmdChan <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case o := <-reply:
		return &InjectResult{Command: cmd, Output: o.Output}, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
