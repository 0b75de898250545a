package leaselock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestWithLease(t *testing.T) {
	mock := newMock(t)
	ttl := int64((5 * time.Minute).Milliseconds())
	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs("book:zarathustra", pgxmock.AnyArg(), ttl).
		WillReturnRows(mock.NewRows([]string{"lease_key"}).AddRow("book:zarathustra"))
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs("book:zarathustra", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ran := false
	err := New(mock, Options{}).WithLease(context.Background(), "book:zarathustra", func(ctx context.Context) error {
		ran = true
		return ctx.Err()
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run under the lease, ran=%v err=%v", ran, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcquire_Busy(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs("book:taken", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	if _, err := New(mock, Options{}).Acquire(context.Background(), "book:taken"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := New(mock, Options{}).Acquire(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for an empty key")
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs("book:queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs("book:queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"lease_key"}).AddRow("book:queued"))
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs("book:queued", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	c := New(mock, Options{Wait: true, WaitInterval: time.Millisecond})
	lease, err := c.Acquire(context.Background(), "book:queued")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatalf("lease context should end on release")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithLease_Lost(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs("book:lost", pgxmock.AnyArg(), int64(2000)).
		WillReturnRows(mock.NewRows([]string{"lease_key"}).AddRow("book:lost"))
	mock.ExpectQuery(regexp.QuoteMeta(renewSQL)).
		WithArgs("book:lost", pgxmock.AnyArg(), int64(2000)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs("book:lost", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	c := New(mock, Options{TTL: 2 * time.Second})
	err := c.WithLease(context.Background(), "book:lost", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}
