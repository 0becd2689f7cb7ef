package loyalty

const (
	operationEarn      = "earn"
	operationAdjust    = "adjust"
	operationRecompute = "recompute"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"

	idempotencyKeyDelimiter = ":"
)
