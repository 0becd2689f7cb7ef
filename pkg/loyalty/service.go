package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store.
type Service struct {
	store      Store
	policy     Policy
	calculator Calculator
	nowFn      func() int64
	logger     OperationLogger
}

// NewService wires a Service.
func NewService(store Store, policy Policy, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	calculator, err := NewCalculator(policy)
	if err != nil {
		return nil, err
	}
	service := &Service{store: store, policy: policy, calculator: calculator, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Policy returns the immutable earning configuration.
func (service *Service) Policy() Policy {
	return service.policy
}

// EarnRequest is a normalized points-earning event.
type EarnRequest struct {
	Account  AccountRef
	OrderID  ExternalOrderID
	Channel  Channel
	Amount   MonetaryAmount
	Currency string
	Metadata MetadataJSON
}

// EarnResult reports the ledger entry and the account state after an append.
// WasNew is false when the idempotency key had already been credited; the
// entry and summary are then the previously recorded ones, unchanged.
type EarnResult struct {
	Entry            Entry
	Summary          Summary
	Tier             Tier
	PointsToNextTier int64
	WasNew           bool
}

// Earn appends one points-earning entry at most once per (order, channel).
//
// Account resolution, the insert, and the summary projection run in a single
// storage transaction; a duplicate idempotency key is success and returns the
// prior entry with the summary left untouched.
func (service *Service) Earn(ctx context.Context, request EarnRequest) (EarnResult, error) {
	result, operationError := service.earn(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation:      operationEarn,
		Account:        request.Account.String(),
		Channel:        request.Channel,
		Points:         result.Entry.Points,
		IdempotencyKey: OrderIdempotencyKey(request.OrderID, request.Channel),
		Status:         duplicateStatus(result, operationError),
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) earn(ctx context.Context, request EarnRequest) (EarnResult, error) {
	if err := request.Account.validate(); err != nil {
		return EarnResult{}, err
	}
	if request.OrderID.value == "" {
		return EarnResult{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	if _, err := ParseChannel(request.Channel.String()); err != nil {
		return EarnResult{}, err
	}
	if request.Currency != service.policy.Currency {
		return EarnResult{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, request.Currency)
	}

	var result EarnResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := service.resolveAccount(ctx, transactionStore, request.Account)
		if err != nil {
			return err
		}
		summary, err := transactionStore.GetSummary(ctx, accountID)
		if err != nil {
			return err
		}
		tier := service.policy.Tiers.TierFor(summary.TotalPoints)
		points := service.calculator.Award(request.Amount, tier, request.Channel.Bonus())
		entry := Entry{
			AccountID:         accountID,
			Channel:           request.Channel,
			Points:            points,
			Amount:            request.Amount.Decimal(),
			Currency:          request.Currency,
			IdempotencyKey:    OrderIdempotencyKey(request.OrderID, request.Channel).String(),
			MetadataJSON:      request.Metadata.String(),
			OccurredAtUnixUTC: service.nowFn(),
		}
		appended, err := service.appendAndProject(ctx, transactionStore, summary, entry)
		if err != nil {
			return err
		}
		result = appended
		return nil
	})
	if operationError != nil {
		return EarnResult{}, operationError
	}
	return result, nil
}

// Adjust appends a signed manual adjustment through the same idempotent path.
// The id path never auto-creates an account.
func (service *Service) Adjust(ctx context.Context, accountID AccountID, points AdjustmentPoints, idempotencyKey IdempotencyKey, metadata MetadataJSON) (EarnResult, error) {
	var result EarnResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		resolvedID, err := transactionStore.LookupAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		summary, err := transactionStore.GetSummary(ctx, resolvedID)
		if err != nil {
			return err
		}
		entry := Entry{
			AccountID:         resolvedID,
			Channel:           ChannelManualAdjustment,
			Points:            points.Int64(),
			Amount:            decimal.Zero,
			Currency:          service.policy.Currency,
			IdempotencyKey:    idempotencyKey.String(),
			MetadataJSON:      metadata.String(),
			OccurredAtUnixUTC: service.nowFn(),
		}
		appended, err := service.appendAndProject(ctx, transactionStore, summary, entry)
		if err != nil {
			return err
		}
		result = appended
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationAdjust,
		Account:        accountID.String(),
		Channel:        ChannelManualAdjustment,
		Points:         points.Int64(),
		IdempotencyKey: idempotencyKey,
		Status:         duplicateStatus(result, operationError),
		Error:          operationError,
	})
	if operationError != nil {
		return EarnResult{}, operationError
	}
	return result, nil
}

// appendAndProject inserts the entry and folds it into the summary inside the
// caller's transaction. A unique-key conflict short-circuits to the recorded
// entry: the prior summary is already consistent and is never touched again.
func (service *Service) appendAndProject(ctx context.Context, transactionStore Store, summary Summary, entry Entry) (EarnResult, error) {
	stored, err := transactionStore.InsertEntry(ctx, entry)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		key, keyErr := NewIdempotencyKey(entry.IdempotencyKey)
		if keyErr != nil {
			return EarnResult{}, keyErr
		}
		existing, getErr := transactionStore.GetEntryByIdempotencyKey(ctx, key)
		if getErr != nil {
			return EarnResult{}, getErr
		}
		// The prior delivery may have filed the entry under a different
		// account (same order seen through another reference).
		priorSummary, sumErr := transactionStore.GetSummary(ctx, existing.AccountID)
		if sumErr != nil {
			return EarnResult{}, sumErr
		}
		return service.buildResult(existing, priorSummary, false), nil
	}
	if err != nil {
		return EarnResult{}, err
	}
	projected := service.projectEntry(summary, stored)
	if err := transactionStore.UpsertSummary(ctx, projected); err != nil {
		return EarnResult{}, err
	}
	return service.buildResult(stored, projected, true), nil
}

// projectEntry is the incremental Summary projection. RecomputeSummary folds
// the same function over the full entry set, so the two stay replay-equivalent.
func (service *Service) projectEntry(summary Summary, entry Entry) Summary {
	next := summary
	next.AccountID = entry.AccountID
	next.TotalPoints += entry.Points
	next.OrderCount++
	next.TotalSpent = summary.TotalSpent.Add(entry.Amount)
	if entry.OccurredAtUnixUTC > next.LastActivityAtUnixUTC {
		next.LastActivityAtUnixUTC = entry.OccurredAtUnixUTC
	}
	next.Tier = service.policy.Tiers.TierFor(next.TotalPoints).Name
	return next
}

func (service *Service) buildResult(entry Entry, summary Summary, wasNew bool) EarnResult {
	return EarnResult{
		Entry:            entry,
		Summary:          summary,
		Tier:             service.policy.Tiers.TierFor(summary.TotalPoints),
		PointsToNextTier: service.policy.Tiers.PointsToNextTier(summary.TotalPoints),
		WasNew:           wasNew,
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func duplicateStatus(result EarnResult, operationError error) string {
	if operationError != nil {
		return operationStatusError
	}
	if !result.WasNew {
		return operationStatusDuplicate
	}
	return operationStatusOK
}
