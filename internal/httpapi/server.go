package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/campuspay/internal/chain"
	"github.com/MarkoPoloResearchLab/campuspay/internal/metrics"
	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	solanaPayPath        = "/solanapay"
	referencePath        = "/api/references/:reference"
	orderReferencesPath  = "/api/orders/:order/references"
	headerRequestID      = "X-Request-ID"
	metricHTTPRequest    = "http_request"
	metricHTTPLatency    = "http_latency"
	corsAllowedMethods   = "GET, POST, OPTIONS"
	corsAllowedHeaders   = "Content-Type, Authorization"
	corsPreflightMaxAge  = 12 * time.Hour
	queryParameterItem   = "item"
	routeParamReference  = "reference"
	routeParamOrder      = "order"
	errorCodeInternal    = "internal_error"
	errorCodeMissingItem = "missing_item"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: payment.ErrMalformedItemPayload, status: http.StatusBadRequest, code: "malformed_item"},
	{target: payment.ErrInvalidPayerKey, status: http.StatusBadRequest, code: "invalid_account"},
	{target: payment.ErrInvalidPaymentReference, status: http.StatusBadRequest, code: "invalid_reference"},
	{target: payment.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: payment.ErrReferenceConflict, status: http.StatusConflict, code: "reference_conflict"},
	{target: payment.ErrUnknownReference, status: http.StatusNotFound, code: "unknown_reference"},
	{target: payment.ErrLedgerUnavailable, status: http.StatusBadGateway, code: "ledger_unavailable"},
}

// accountInspector is the chain lookup used to check the merchant at startup.
type accountInspector interface {
	AccountInfo(ctx context.Context, account solana.PublicKey) (chain.AccountInfo, error)
}

// Run boots the payment request API using the supplied configuration. The
// reference store is optional.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, store payment.ReferenceStore) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	merchant, err := cfg.Merchant()
	if err != nil {
		return err
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		prometheusRecorder := metrics.NewPrometheusRecorder()
		recorder = prometheusRecorder
		metricsHandler = prometheusRecorder.Handler()
	}

	ledger, err := chain.NewRPCLedger(cfg.RPCURL, chain.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("rpc ledger: %w", err)
	}
	preflightMerchant(ctx, ledger, merchant, cfg.LedgerTimeout, logger)

	service, err := newPaymentService(cfg, ledger, merchant, logger, store)
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		service:  service,
		recorder: recorder,
	}
	router := setupRouter(cfg, handler, metricsHandler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("payment api listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("rpc_url", ledger.Endpoint()),
			zap.String("merchant", merchant.String()),
			zap.Bool("reference_registry", store != nil),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
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

func newPaymentService(cfg Config, ledger payment.Ledger, merchant solana.PublicKey, logger *zap.Logger, store payment.ReferenceStore) (*payment.Service, error) {
	options := []payment.ServiceOption{
		payment.WithOperationLogger(NewOperationLogger(logger)),
		payment.WithLedgerTimeout(cfg.LedgerTimeout),
		payment.WithIcon(cfg.IconURL),
		payment.WithLabelPrefix(cfg.LabelPrefix),
	}
	if store != nil {
		options = append(options, payment.WithReferenceStore(store))
	}
	return payment.NewService(ledger, merchant, options...)
}

// preflightMerchant warns when the merchant account cannot be read. Startup
// continues either way; transfers to an unfunded account still succeed.
func preflightMerchant(ctx context.Context, inspector accountInspector, merchant solana.PublicKey, timeout time.Duration, logger *zap.Logger) {
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	info, err := inspector.AccountInfo(requestCtx, merchant)
	switch {
	case errors.Is(err, chain.ErrAccountNotFound):
		logger.Warn("merchant account does not exist on cluster yet", zap.String("merchant", merchant.String()))
	case err != nil:
		logger.Warn("merchant account check failed", zap.String("merchant", merchant.String()), zap.Error(err))
	default:
		logger.Info("merchant account found",
			zap.String("merchant", merchant.String()),
			zap.String("balance_sol", payment.Lamports(info.Lamports).SOL().String()),
		)
	}
}

func setupRouter(cfg Config, handler *httpHandler, metricsHandler http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(handler.metricsMiddleware())
	router.Use(cors.New(corsConfig(cfg)))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	router.GET(solanaPayPath, handler.handleDescribe)
	router.POST(solanaPayPath, handler.handleBuild)
	router.OPTIONS(solanaPayPath, handler.preflightHandler(cfg))
	router.GET(referencePath, handler.handleReference)
	router.GET(orderReferencesPath, handler.handleOrderReferences)

	return router
}

func corsConfig(cfg Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods: strings.Split(strings.ReplaceAll(corsAllowedMethods, " ", ""), ","),
		AllowHeaders: strings.Split(strings.ReplaceAll(corsAllowedHeaders, " ", ""), ","),
		MaxAge:       corsPreflightMaxAge,
	}
	if cfg.allowsAnyOrigin() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	return corsCfg
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := strings.TrimSpace(ctx.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Header(headerRequestID, requestID)
		ctx.Request = ctx.Request.WithContext(withRequestID(ctx.Request.Context(), requestID))
		ctx.Next()
	}
}

type httpHandler struct {
	logger   *zap.Logger
	service  *payment.Service
	recorder metrics.Recorder
}

func (handler *httpHandler) metricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		labels := map[string]string{
			metrics.LabelEndpoint: endpoint,
			metrics.LabelMethod:   ctx.Request.Method,
			metrics.LabelStatus:   fmt.Sprintf("%d", ctx.Writer.Status()),
		}
		handler.recorder.IncCounter(metricHTTPRequest, labels)
		handler.recorder.ObserveLatency(metricHTTPLatency, time.Since(started), labels)
	}
}

// preflightHandler answers OPTIONS requests that carry no Origin header; the
// CORS middleware answers the ones that do.
func (handler *httpHandler) preflightHandler(cfg Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if cfg.allowsAnyOrigin() {
			ctx.Header("Access-Control-Allow-Origin", "*")
		}
		ctx.Header("Access-Control-Allow-Methods", corsAllowedMethods)
		ctx.Header("Access-Control-Allow-Headers", corsAllowedHeaders)
		ctx.Status(http.StatusNoContent)
	}
}

func (handler *httpHandler) handleDescribe(ctx *gin.Context) {
	item, ok := ctx.GetQuery(queryParameterItem)
	if !ok {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeMissingItem, "item query parameter is required"))
		return
	}
	description, err := handler.service.DescribeItem(ctx.Request.Context(), item)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, describeResponse{
		Label: description.Label,
		Icon:  description.Icon,
	})
}

func (handler *httpHandler) handleBuild(ctx *gin.Context) {
	item, ok := ctx.GetQuery(queryParameterItem)
	if !ok {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeMissingItem, "item query parameter is required"))
		return
	}
	var request buildRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with an account field"))
		return
	}
	if strings.TrimSpace(request.Account) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_account", "account is required"))
		return
	}
	result, err := handler.service.BuildPaymentTransaction(ctx.Request.Context(), item, request.Account)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, buildResponse{
		Transaction:          result.Transaction,
		Message:              result.Message,
		Reference:            result.Reference.String(),
		LastValidBlockHeight: result.LastValidBlockHeight,
	})
}

func (handler *httpHandler) handleReference(ctx *gin.Context) {
	record, err := handler.service.LookupReference(ctx.Request.Context(), ctx.Param(routeParamReference))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newReferenceResponse(record))
}

func (handler *httpHandler) handleOrderReferences(ctx *gin.Context) {
	records, err := handler.service.ListOrderReferences(ctx.Request.Context(), ctx.Param(routeParamOrder))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	references := make([]referenceResponse, 0, len(records))
	for _, record := range records {
		references = append(references, newReferenceResponse(record))
	}
	ctx.JSON(http.StatusOK, orderReferencesResponse{References: references})
}

func newReferenceResponse(record payment.ReferenceRecord) referenceResponse {
	return referenceResponse{
		Reference:      record.Reference.String(),
		OrderID:        record.OrderID,
		Title:          record.Title,
		Lamports:       record.Lamports.Uint64(),
		AmountSOL:      record.Lamports.SOL().String(),
		Merchant:       record.Merchant.String(),
		CreatedUnixUTC: record.CreatedUnixUTC,
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			if mapping.status >= http.StatusInternalServerError {
				handler.logger.Error("payment request failed", zap.String("code", mapping.code), zap.Error(err))
			}
			ctx.JSON(mapping.status, errorResponse(mapping.code, err.Error()))
			return
		}
	}
	handler.logger.Error("payment request failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "internal error"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type buildRequest struct {
	Account string `json:"account"`
}

type describeResponse struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

type buildResponse struct {
	Transaction          string `json:"transaction"`
	Message              string `json:"message"`
	Reference            string `json:"reference"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type referenceResponse struct {
	Reference      string `json:"reference"`
	OrderID        string `json:"orderId"`
	Title          string `json:"title"`
	Lamports       uint64 `json:"lamports"`
	AmountSOL      string `json:"amountSol"`
	Merchant       string `json:"merchant"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}

type orderReferencesResponse struct {
	References []referenceResponse `json:"references"`
}
