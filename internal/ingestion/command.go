package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
)

// Command is a decoded command on its way to the core. Payload is the
// canonical wire JSON stored in the event log.
type Command struct {
	Event   event.Event
	Payload []byte
	Ack     func()
	Nak     func()
	Reply   chan<- Outcome // optional, receives the core outcome
}

// NewCommand decodes data and re-encodes it canonically.
func NewCommand(eventType string, data []byte) (Command, error) {
	evt, err := ParseCommand(eventType, data)
	if err != nil {
		return Command{}, err
	}
	payload, err := EncodeEvent(evt)
	if err != nil {
		return Command{}, err
	}
	return Command{Event: evt, Payload: payload}, nil
}

// Outcome is the core's verdict on one command. Output is nil for a
// duplicate or a rejection.
type Outcome struct {
	Output *core.CoreOutput
	Err    error
}

// Processor applies commands; *core.DeterministicCore implements it.
type Processor interface {
	ProcessEvent(evt event.Event, payload []byte) (*core.CoreOutput, error)
}

// Retriable reports whether a command failed only because it arrived ahead
// of its partition and should be redelivered.
func Retriable(err error) bool {
	return errors.Is(err, core.ErrSequenceGap)
}

// DecodeLoop turns raw NATS messages into commands. Undecodable messages are
// acked and dropped since redelivery cannot fix them.
func DecodeLoop(ctx context.Context, rawChan <-chan RawEvent, out chan<- Command, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			t, err := ResolveEventType(raw.Subject)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping message")
				settle(raw.AckFunc)
				continue
			}
			cmd, err := NewCommand(t.String(), raw.Data)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping undecodable command")
				settle(raw.AckFunc)
				continue
			}
			cmd.Ack, cmd.Nak = raw.AckFunc, raw.NakFunc

			select {
			case out <- cmd:
			case <-ctx.Done():
				settle(raw.NakFunc)
				return
			}
		}
	}
}

// ProcessLoop feeds commands to the core one at a time. Rejected commands
// are acked at once and commands that arrived ahead of their partition are
// nacked for redelivery. With a tracker, the ack of an applied command waits
// until its event is in the log; a nil tracker acks on the outcome.
func ProcessLoop(ctx context.Context, in <-chan Command, p Processor, acks *AckTracker, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			out, err := p.ProcessEvent(cmd.Event, cmd.Payload)
			switch {
			case err == nil:
				settleApplied(acks, out, cmd.Ack)
			case Retriable(err):
				logger.Debug().Err(err).Str("key", cmd.Event.IdempotencyKey()).Msg("command ahead of partition, redelivering")
				settle(cmd.Nak)
			default:
				logger.Warn().Err(err).
					Str("event_type", cmd.Event.EventType().String()).
					Str("key", cmd.Event.IdempotencyKey()).
					Msg("command rejected")
				settle(cmd.Ack)
			}
			if cmd.Reply != nil {
				cmd.Reply <- Outcome{Output: out, Err: err}
			}
		}
	}
}

// settleApplied acks an accepted command. A nil output is a duplicate.
func settleApplied(acks *AckTracker, out *core.CoreOutput, ack func()) {
	switch {
	case acks == nil:
		settle(ack)
	case out == nil:
		acks.HoldBehindPending(ack)
	case out.Envelope == nil:
		settle(ack)
	default:
		acks.Hold(out.Envelope.Sequence, ack)
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
