// internal/journal/journal_test.go
package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/user/botstream/internal/types"
)

func TestJournal(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()

	rec := &types.Record{
		SessionID: sessionID,
		EventID:   types.NewEventID(),
		Kind:      "bot-message-chunk",
		MessageID: "m1",
		Outcome:   types.OutcomeApplied,
		At:        time.Now(),
	}
	if err := j.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := j.Tail(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Seq != 1 {
		t.Errorf("expected seq 1, got %d", records[0].Seq)
	}
	if records[0].MessageID != "m1" {
		t.Errorf("expected message id m1, got %s", records[0].MessageID)
	}

	count, err := j.Count(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestJournalTailLimit(t *testing.T) {
	j := New(t.TempDir())
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, &types.Record{SessionID: sessionID, Outcome: types.OutcomeApplied, At: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := j.Tail(ctx, sessionID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Seq != 4 || records[1].Seq != 5 {
		t.Errorf("expected seqs 4,5, got %d,%d", records[0].Seq, records[1].Seq)
	}
}

func TestJournalMissingSession(t *testing.T) {
	j := New(t.TempDir())
	ctx := context.Background()

	records, err := j.Tail(ctx, "nope", 10)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}

	count, err := j.Count(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}
}

func TestJournalRejectsEmptySession(t *testing.T) {
	j := New(t.TempDir())
	if err := j.Append(context.Background(), &types.Record{Outcome: types.OutcomeDropped}); err == nil {
		t.Error("expected error for record without session id")
	}
}

func TestJournalSessions(t *testing.T) {
	j := New(t.TempDir())
	ctx := context.Background()

	ids, err := j.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no sessions, got %v", ids)
	}

	sessionID := types.NewSessionID()
	if err := j.Append(ctx, &types.Record{SessionID: sessionID, Outcome: types.OutcomeStop, At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	ids, err = j.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != sessionID {
		t.Errorf("expected [%s], got %v", sessionID, ids)
	}
}

func TestJournalSeqCountsFileOnce(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sessionID := types.NewSessionID()

	first := New(dir)
	for i := 0; i < 2; i++ {
		if err := first.Append(ctx, &types.Record{SessionID: sessionID, Outcome: types.OutcomeApplied, At: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	// a fresh journal picks up where the file left off
	second := New(dir)
	rec := &types.Record{SessionID: sessionID, Outcome: types.OutcomeApplied, At: time.Now()}
	if err := second.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 3 {
		t.Fatalf("expected seq 3 after reload, got %d", rec.Seq)
	}

	// later appends use the cached counter, not the file
	if err := os.Remove(second.recordsPath(sessionID)); err != nil {
		t.Fatal(err)
	}
	rec = &types.Record{SessionID: sessionID, Outcome: types.OutcomeStop, At: time.Now()}
	if err := second.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 4 {
		t.Errorf("expected seq 4 from cached counter, got %d", rec.Seq)
	}
}
