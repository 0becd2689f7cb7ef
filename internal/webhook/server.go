package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Run boots the HTTP ingress using the supplied configuration.
func Run(ctx context.Context, cfg Config, service *loyalty.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loyalty ingress listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/orders", handler.handleOrderWebhook)

	api := router.Group("/api")
	api.Use(adminJWTMiddleware(cfg))

	api.POST("/adjustments", handler.handleAdjustment)
	api.GET("/accounts/:id/summary", handler.handleSummary)
	api.GET("/accounts/:id/entries", handler.handleEntries)
	api.POST("/accounts/:id/recompute", handler.handleRecompute)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *loyalty.Service
	cfg     Config
}

// orderWebhookPayload is the inbound order event shape.
type orderWebhookPayload struct {
	OrderID    string          `json:"order_id"`
	TotalPrice string          `json:"total_price"`
	Currency   string          `json:"currency"`
	AccountID  string          `json:"account_id"`
	Email      string          `json:"email"`
	ScanCode   string          `json:"scan_code"`
	LineItems  json.RawMessage `json:"line_items"`
	Tag        string          `json:"tag"`
}

func (handler *httpHandler) handleOrderWebhook(ctx *gin.Context) {
	rawBody, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	signature := ctx.GetHeader(handler.cfg.SignatureHeader)
	if !VerifySignature(rawBody, signature, []byte(handler.cfg.WebhookSecret)) {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid signature"))
		return
	}

	var payload orderWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	request, err := handler.buildEarnRequest(payload)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	result, err := handler.service.Earn(requestCtx, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, earnResponse(result))
}

func (handler *httpHandler) buildEarnRequest(payload orderWebhookPayload) (loyalty.EarnRequest, error) {
	orderID, err := loyalty.NewExternalOrderID(payload.OrderID)
	if err != nil {
		return loyalty.EarnRequest{}, err
	}
	account, err := accountRefFromPayload(payload.AccountID, payload.Email)
	if err != nil {
		return loyalty.EarnRequest{}, err
	}
	amount, err := loyalty.ParseMonetaryAmount(payload.TotalPrice)
	if err != nil {
		return loyalty.EarnRequest{}, err
	}
	channel := loyalty.ChannelPlatformOrder
	if payload.ScanCode != "" {
		channel = loyalty.ChannelQRScan
	}
	metadata, err := loyalty.NewMetadataJSON(marshalMetadata(map[string]any{
		"line_items": payload.LineItems,
		"scan_code":  payload.ScanCode,
		"tag":        payload.Tag,
	}))
	if err != nil {
		return loyalty.EarnRequest{}, err
	}
	return loyalty.EarnRequest{
		Account:  account,
		OrderID:  orderID,
		Channel:  channel,
		Amount:   amount,
		Currency: payload.Currency,
		Metadata: metadata,
	}, nil
}

type adjustmentRequest struct {
	AccountID      string `json:"account_id"`
	Points         int64  `json:"points"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

func (handler *httpHandler) handleAdjustment(ctx *gin.Context) {
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	accountID, err := loyalty.NewAccountID(request.AccountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	points, err := loyalty.NewAdjustmentPoints(request.Points)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := loyalty.NewMetadataJSON(marshalMetadata(map[string]any{"reason": request.Reason}))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	result, err := handler.service.Adjust(requestCtx, accountID, points, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, earnResponse(result))
}

func (handler *httpHandler) handleSummary(ctx *gin.Context) {
	accountID, err := loyalty.NewAccountID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	view, err := handler.service.AccountSummary(requestCtx, accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summaryPayloadFromView(view))
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	accountID, err := loyalty.NewAccountID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	before, err := strconv.ParseInt(ctx.DefaultQuery("before", "0"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", "before must be a unix timestamp"))
		return
	}
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", "limit must be a positive integer"))
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	entries, err := handler.service.History(requestCtx, accountID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryPayloadFrom(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payloads})
}

func (handler *httpHandler) handleRecompute(ctx *gin.Context) {
	accountID, err := loyalty.NewAccountID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	view, err := handler.service.RecomputeSummary(requestCtx, accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summaryPayloadFromView(view))
}

// respondError maps domain errors onto the HTTP taxonomy. Validation errors
// are 4xx and side-effect free; everything else is a retriable 502.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, loyalty.ErrUnknownAccount):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_account", "account does not exist"))
	case errors.Is(err, loyalty.ErrUnsupportedCurrency):
		ctx.JSON(http.StatusBadRequest, errorResponse("unsupported_currency", "currency is not accepted"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
	default:
		handler.logger.Error("loyalty request failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("storage_error", "temporary failure, safe to retry"))
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		loyalty.ErrInvalidAccountID,
		loyalty.ErrInvalidEmail,
		loyalty.ErrInvalidAccountRef,
		loyalty.ErrInvalidOrderID,
		loyalty.ErrInvalidChannel,
		loyalty.ErrInvalidIdempotencyKey,
		loyalty.ErrInvalidAmount,
		loyalty.ErrInvalidAdjustment,
		loyalty.ErrInvalidMetadataJSON,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func accountRefFromPayload(accountID string, email string) (loyalty.AccountRef, error) {
	if accountID != "" {
		parsed, err := loyalty.NewAccountID(accountID)
		if err != nil {
			return loyalty.AccountRef{}, err
		}
		return loyalty.RefByID(parsed), nil
	}
	if email != "" {
		parsed, err := loyalty.NewEmail(email)
		if err != nil {
			return loyalty.AccountRef{}, err
		}
		return loyalty.RefByEmail(parsed), nil
	}
	return loyalty.AccountRef{}, fmt.Errorf("%w: account id or email is required", loyalty.ErrInvalidAccountRef)
}

func earnResponse(result loyalty.EarnResult) gin.H {
	return gin.H{
		"ok":                  true,
		"points_awarded":      result.Entry.Points,
		"total_points":        result.Summary.TotalPoints,
		"tier":                result.Tier.Name,
		"points_to_next_tier": result.PointsToNextTier,
		"duplicate":           !result.WasNew,
		"account_id":          result.Entry.AccountID,
		"entry_id":            result.Entry.EntryID,
	}
}

type summaryPayload struct {
	AccountID        string `json:"account_id"`
	TotalPoints      int64  `json:"total_points"`
	Tier             string `json:"tier"`
	OrderCount       int64  `json:"order_count"`
	TotalSpent       string `json:"total_spent"`
	LastActivityUnix int64  `json:"last_activity_unix_utc"`
	PointsToNextTier int64  `json:"points_to_next_tier"`
}

func summaryPayloadFromView(view loyalty.SummaryView) summaryPayload {
	return summaryPayload{
		AccountID:        view.Summary.AccountID,
		TotalPoints:      view.Summary.TotalPoints,
		Tier:             view.Tier.Name,
		OrderCount:       view.Summary.OrderCount,
		TotalSpent:       view.Summary.TotalSpent.String(),
		LastActivityUnix: view.Summary.LastActivityAtUnixUTC,
		PointsToNextTier: view.PointsToNextTier,
	}
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Channel        string          `json:"channel"`
	Points         int64           `json:"points"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	OccurredAtUnix int64           `json:"occurred_at_unix_utc"`
}

func entryPayloadFrom(entry loyalty.Entry) entryPayload {
	return entryPayload{
		EntryID:        entry.EntryID,
		Channel:        entry.Channel.String(),
		Points:         entry.Points,
		Amount:         entry.Amount.String(),
		Currency:       entry.Currency,
		IdempotencyKey: entry.IdempotencyKey,
		Metadata:       json.RawMessage(entry.MetadataJSON),
		OccurredAtUnix: entry.OccurredAtUnixUTC,
	}
}

func marshalMetadata(metadata any) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
