package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestService_AppendRequiresCallAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventCallAccepted, ToState: "ACCEPTED"}); err == nil {
		t.Fatalf("expected error without call id")
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1", ToState: "ACCEPTED"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_AppendsTrailInOrder(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.Append(ctx, Event{CallID: "c1", Type: EventCallInitiated, ActorID: "u1", ActorRole: "USER", ToState: "RINGING"})
	_ = svc.Append(ctx, Event{CallID: "c2", Type: EventCallInitiated, ActorID: "u2", ActorRole: "USER", ToState: "RINGING"})
	_ = svc.Append(ctx, Event{CallID: "c1", Type: EventCallAccepted, ActorID: "t1", ActorRole: "TELECALLER", FromState: "RINGING", ToState: "ACCEPTED"})

	trail, err := svc.Trail(ctx, "c1")
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 2 || trail[0].Type != EventCallInitiated || trail[1].Type != EventCallAccepted {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if trail[0].ID == "" || trail[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned")
	}
}

func TestPostgresRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_events")).
		WithArgs("e1", "c1", "call_missed", "", "", "RINGING", "MISSED", "TIMEOUT", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	err = repo.Append(context.Background(), Event{
		ID: "e1", CallID: "c1", Type: EventCallMissed, FromState: "RINGING", ToState: "MISSED", Reason: "TIMEOUT", CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_ListByCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "call_id", "type", "actor_id", "actor_role", "from_state", "to_state", "reason", "message", "created_at"}).
		AddRow("e1", "c1", "call_initiated", "u1", "USER", "", "RINGING", "", "", at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM call_events")).WithArgs("c1").WillReturnRows(rows)

	got, err := NewPostgresRepo(db).ListByCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventCallInitiated || got[0].ActorID != "u1" {
		t.Fatalf("unexpected events: %+v", got)
	}
}
