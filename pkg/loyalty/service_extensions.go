package loyalty

import "context"

// SummaryView is the read-side account state returned to API callers.
type SummaryView struct {
	Summary          Summary
	Tier             Tier
	PointsToNextTier int64
}

// AccountSummary reads the current summary for an existing account. Reads
// never create accounts; only a points-earning event through the email path
// does. An account with no recorded summary reads as zero in the base tier.
func (service *Service) AccountSummary(ctx context.Context, accountID AccountID) (SummaryView, error) {
	resolvedID, err := service.store.LookupAccountID(ctx, accountID)
	if err != nil {
		return SummaryView{}, err
	}
	summary, err := service.store.GetSummary(ctx, resolvedID)
	if err != nil {
		return SummaryView{}, err
	}
	summary.AccountID = resolvedID
	return service.summaryView(summary), nil
}

// History lists ledger entries for an account before a cutoff time. Ordering
// is by occurrence time for display only.
func (service *Service) History(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	resolvedID, err := service.store.LookupAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, resolvedID, beforeUnixUTC, limit)
}

// RecomputeSummary re-derives the summary from the full entry set and persists
// it. This is the repair path; its result must match the incremental
// projection for any entry sequence.
func (service *Service) RecomputeSummary(ctx context.Context, accountID AccountID) (SummaryView, error) {
	var recomputed Summary
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		resolvedID, err := transactionStore.LookupAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := transactionStore.ListAllEntries(ctx, resolvedID)
		if err != nil {
			return err
		}
		recomputed = Summary{AccountID: resolvedID}
		recomputed.Tier = service.policy.Tiers.TierFor(0).Name
		for _, entry := range entries {
			recomputed = service.projectEntry(recomputed, entry)
		}
		return transactionStore.UpsertSummary(ctx, recomputed)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRecompute,
		Account:   accountID.String(),
		Points:    recomputed.TotalPoints,
		Error:     operationError,
	})
	if operationError != nil {
		return SummaryView{}, operationError
	}
	return service.summaryView(recomputed), nil
}

func (service *Service) summaryView(summary Summary) SummaryView {
	if summary.Tier == "" {
		summary.Tier = service.policy.Tiers.TierFor(summary.TotalPoints).Name
	}
	return SummaryView{
		Summary:          summary,
		Tier:             service.policy.Tiers.TierFor(summary.TotalPoints),
		PointsToNextTier: service.policy.Tiers.PointsToNextTier(summary.TotalPoints),
	}
}

func (service *Service) resolveAccount(ctx context.Context, store Store, ref AccountRef) (string, error) {
	if ref.ByEmail() {
		return store.GetOrCreateAccountIDByEmail(ctx, ref.Email())
	}
	return store.LookupAccountID(ctx, ref.AccountID())
}
