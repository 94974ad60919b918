package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// fakeProcessor returns scripted outcomes keyed by idempotency key.
type fakeProcessor struct {
	mu       sync.Mutex
	outcomes map[string]error
	seen     []string
}

func (f *fakeProcessor) ProcessEvent(evt event.Event, payload []byte) (*core.CoreOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, evt.IdempotencyKey())
	if err := f.outcomes[evt.IdempotencyKey()]; err != nil {
		return nil, err
	}
	return &core.CoreOutput{Event: evt}, nil
}

type settleRecorder struct {
	mu    sync.Mutex
	acked map[string]int
	naked map[string]int
}

func newSettleRecorder() *settleRecorder {
	return &settleRecorder{acked: map[string]int{}, naked: map[string]int{}}
}

func (r *settleRecorder) command(t *testing.T, owner uuid.UUID, seq int64) ingestion.Command {
	t.Helper()
	evt := &event.StabilityDeposited{
		Header:    event.Header{CommandID: uuid.New(), Sequence: seq},
		Depositor: owner,
		Amount:    fpmath.Units(1),
	}
	payload, err := ingestion.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	key := evt.IdempotencyKey()
	return ingestion.Command{
		Event:   evt,
		Payload: payload,
		Ack:     func() { r.mu.Lock(); r.acked[key]++; r.mu.Unlock() },
		Nak:     func() { r.mu.Lock(); r.naked[key]++; r.mu.Unlock() },
	}
}

func runProcessLoop(t *testing.T, p ingestion.Processor, cmds ...ingestion.Command) {
	t.Helper()
	in := make(chan ingestion.Command, len(cmds))
	for _, c := range cmds {
		in <- c
	}
	close(in)
	done := make(chan struct{})
	go func() {
		ingestion.ProcessLoop(context.Background(), in, p, nil, zerolog.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process loop did not drain")
	}
}

func TestProcessLoop_SettlesByOutcome(t *testing.T) {
	rec := newSettleRecorder()
	owner := uuid.New()
	applied := rec.command(t, owner, 0)
	gap := rec.command(t, owner, 5)
	rejected := rec.command(t, owner, 1)
	stale := rec.command(t, owner, 0)

	p := &fakeProcessor{outcomes: map[string]error{
		gap.Event.IdempotencyKey():      fmt.Errorf("validate: %w", core.ErrSequenceGap),
		rejected.Event.IdempotencyKey(): protocol.ErrNoDeposit,
		stale.Event.IdempotencyKey():    core.ErrOutOfOrder,
	}}
	runProcessLoop(t, p, applied, gap, rejected, stale)

	if len(p.seen) != 4 {
		t.Fatalf("processed %d commands, want 4", len(p.seen))
	}
	for _, c := range []ingestion.Command{applied, rejected, stale} {
		key := c.Event.IdempotencyKey()
		if rec.acked[key] != 1 || rec.naked[key] != 0 {
			t.Errorf("%s: acked=%d naked=%d, want a single ack", key, rec.acked[key], rec.naked[key])
		}
	}
	key := gap.Event.IdempotencyKey()
	if rec.naked[key] != 1 || rec.acked[key] != 0 {
		t.Errorf("gap: acked=%d naked=%d, want a single nak", rec.acked[key], rec.naked[key])
	}
}

func TestDecodeLoop_DropsBadMessages(t *testing.T) {
	rec := newSettleRecorder()
	owner := uuid.New()
	good := rec.command(t, owner, 0)

	raws := []ingestion.RawEvent{
		{Subject: "trove.cmd.unknown.x", Data: []byte(`{}`), AckFunc: func() { rec.acked["unknown"]++ }},
		{Subject: "trove.cmd.stability_deposited.x", Data: []byte(`{`), AckFunc: func() { rec.acked["garbled"]++ }},
		{Subject: ingestion.CommandSubject(good.Event), Data: good.Payload, AckFunc: good.Ack, NakFunc: good.Nak},
	}
	rawChan := make(chan ingestion.RawEvent, len(raws))
	for _, r := range raws {
		rawChan <- r
	}
	close(rawChan)

	out := make(chan ingestion.Command, len(raws))
	ingestion.DecodeLoop(context.Background(), rawChan, out, zerolog.Nop())

	if len(out) != 1 {
		t.Fatalf("decoded %d commands, want 1", len(out))
	}
	cmd := <-out
	if cmd.Event.IdempotencyKey() != good.Event.IdempotencyKey() {
		t.Errorf("wrong command decoded")
	}
	if string(cmd.Payload) != string(good.Payload) {
		t.Errorf("payload not canonical: %s", cmd.Payload)
	}
	if rec.acked["unknown"] != 1 || rec.acked["garbled"] != 1 {
		t.Errorf("bad messages must be acked: %v", rec.acked)
	}
}

func TestAdminIngest_ReturnsCoreVerdict(t *testing.T) {
	cmdChan := make(chan ingestion.Command, 1)
	admin := ingestion.NewAdminIngestService(cmdChan)
	wantErr := protocol.ErrTroveExists

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProcessor{outcomes: map[string]error{commandID: wantErr}}
	go ingestion.ProcessLoop(ctx, cmdChan, p, nil, zerolog.Nop())

	data := []byte(`{"command_id":"` + commandID + `","owner":"` + userA + `","collateral":"1","stable_amount":"2000","max_fee":"0.05"}`)
	res, err := admin.Inject(ctx, "TroveOpened", data)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if res == nil || res.Command.Event.EventType() != event.EventTypeTroveOpened {
		t.Fatalf("command not returned: %+v", res)
	}
	if res.Output != nil {
		t.Error("rejected command must not carry an output")
	}

	other := []byte(`{"command_id":"` + uuid.NewString() + `","owner":"` + userA + `","collateral":"1","stable_amount":"2000","max_fee":"0.05"}`)
	res, err = admin.Inject(ctx, "TroveOpened", other)
	if err != nil || res.Output == nil {
		t.Fatalf("accepted command: %+v, %v", res, err)
	}

	if _, err := admin.Inject(ctx, "TroveOpened", []byte(`{"owner":"x"}`)); !errors.Is(err, ingestion.ErrMalformedCommand) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
