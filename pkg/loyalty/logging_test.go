package loyalty

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	logs []OperationLog
}

func (recorder *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	recorder.logs = append(recorder.logs, entry)
}

func TestEarnLogsOperation(test *testing.T) {
	test.Parallel()
	recorder := &recorderLogger{}
	store := newStubStore(test)
	service := mustNewService(test, store, WithOperationLogger(recorder))

	if _, err := service.Earn(context.Background(), baseEarnRequest(test)); err != nil {
		test.Fatalf("earn: %v", err)
	}
	if len(recorder.logs) != 1 {
		test.Fatalf("expected 1 log entry, got %d", len(recorder.logs))
	}
	logged := recorder.logs[0]
	if logged.Operation != operationEarn {
		test.Fatalf("unexpected operation %q", logged.Operation)
	}
	if logged.Status != operationStatusOK {
		test.Fatalf("unexpected status %q", logged.Status)
	}
	if logged.Points != 59 {
		test.Fatalf("expected 59 points logged, got %d", logged.Points)
	}
	if logged.IdempotencyKey.String() != "order-1001:platform_order" {
		test.Fatalf("unexpected idempotency key %q", logged.IdempotencyKey)
	}
	if logged.Account != "shopper@example.com" {
		test.Fatalf("unexpected account %q", logged.Account)
	}
}

func TestDuplicateEarnLogsDuplicateStatus(test *testing.T) {
	test.Parallel()
	recorder := &recorderLogger{}
	store := newStubStore(test)
	service := mustNewService(test, store, WithOperationLogger(recorder))
	request := baseEarnRequest(test)

	if _, err := service.Earn(context.Background(), request); err != nil {
		test.Fatalf("first earn: %v", err)
	}
	if _, err := service.Earn(context.Background(), request); err != nil {
		test.Fatalf("second earn: %v", err)
	}
	if len(recorder.logs) != 2 {
		test.Fatalf("expected 2 log entries, got %d", len(recorder.logs))
	}
	if recorder.logs[1].Status != operationStatusDuplicate {
		test.Fatalf("expected duplicate status, got %q", recorder.logs[1].Status)
	}
	if recorder.logs[1].Error != nil {
		test.Fatalf("duplicate must not log an error, got %v", recorder.logs[1].Error)
	}
}

func TestFailedEarnLogsError(test *testing.T) {
	test.Parallel()
	recorder := &recorderLogger{}
	store := newStubStore(test)
	store.insertEntryError = errors.New("disk full")
	service := mustNewService(test, store, WithOperationLogger(recorder))

	if _, err := service.Earn(context.Background(), baseEarnRequest(test)); err == nil {
		test.Fatalf("expected an error")
	}
	if len(recorder.logs) != 1 {
		test.Fatalf("expected 1 log entry, got %d", len(recorder.logs))
	}
	if recorder.logs[0].Status != operationStatusError {
		test.Fatalf("expected error status, got %q", recorder.logs[0].Status)
	}
	if recorder.logs[0].Error == nil {
		test.Fatalf("expected logged error")
	}
}

func TestAdjustLogsOperation(test *testing.T) {
	test.Parallel()
	recorder := &recorderLogger{}
	store := newStubStore(test)
	store.addAccount(test, "acct-1")
	service := mustNewService(test, store, WithOperationLogger(recorder))

	if _, err := service.Adjust(context.Background(), mustAccountID(test, "acct-1"), mustAdjustment(test, -50), mustIdempotencyKey(test, "refund-9"), mustMetadata(test, "{}")); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if len(recorder.logs) != 1 {
		test.Fatalf("expected 1 log entry, got %d", len(recorder.logs))
	}
	logged := recorder.logs[0]
	if logged.Operation != operationAdjust {
		test.Fatalf("unexpected operation %q", logged.Operation)
	}
	if logged.Channel != ChannelManualAdjustment {
		test.Fatalf("unexpected channel %q", logged.Channel)
	}
	if logged.Points != -50 {
		test.Fatalf("expected -50 points logged, got %d", logged.Points)
	}
}
