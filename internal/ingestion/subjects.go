package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"TroveLedger/internal/event"
)

const (
	// CommandSubjectPrefix is followed by the command token and the partition:
	// trove.cmd.<token>.<partition>
	CommandSubjectPrefix = "trove.cmd"
	CommandStream        = "TROVE_COMMANDS"

	// OutboundSubjectPrefix carries applied events: trove.ledger.events.<token>
	OutboundSubjectPrefix = "trove.ledger.events"
	OutboundStream        = "TROVE_LEDGER_EVENTS"
)

// SubjectConfig maps a NATS subject filter to an event type.
type SubjectConfig struct {
	Subject   string
	EventType string
}

// DefaultSubjects returns one filter per command type.
func DefaultSubjects() []SubjectConfig {
	types := event.AllEventTypes()
	out := make([]SubjectConfig, 0, len(types))
	for _, t := range types {
		out = append(out, SubjectConfig{
			Subject:   CommandSubjectPrefix + "." + SubjectToken(t) + ".>",
			EventType: t.String(),
		})
	}
	return out
}

// SubjectToken is the snake_case subject token of an event type, e.g.
// "trove_opened".
func SubjectToken(t event.EventType) string {
	name := t.String()
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CommandSubject is the subject a producer publishes evt on.
func CommandSubject(evt event.Event) string {
	return CommandSubjectPrefix + "." + SubjectToken(evt.EventType()) + "." + evt.Partition()
}

// OutboundSubject is the subject an applied event is republished on.
func OutboundSubject(t event.EventType) string {
	return OutboundSubjectPrefix + "." + SubjectToken(t)
}

var eventTypeByToken = func() map[string]event.EventType {
	m := make(map[string]event.EventType)
	for _, t := range event.AllEventTypes() {
		m[SubjectToken(t)] = t
	}
	return m
}()

// ResolveEventType finds the event type of a command subject.
func ResolveEventType(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("not a command subject: %s", subject)
	}
	token, _, _ := strings.Cut(rest, ".")
	t, ok := eventTypeByToken[token]
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("unknown command subject: %s", subject)
	}
	return t, nil
}
