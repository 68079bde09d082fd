package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"
	"vendorpay/internal/repository"
	"vendorpay/internal/service"
	"vendorpay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Handler 统一处理器
type Handler struct {
	payments        *service.PaymentService
	redirects       *service.RedirectResponder
	signatureHeader string
	log             *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(payments *service.PaymentService, redirects *service.RedirectResponder, signatureHeader string, log *zap.Logger) *Handler {
	return &Handler{
		payments:        payments,
		redirects:       redirects,
		signatureHeader: signatureHeader,
		log:             log,
	}
}

// ============================================================
// 支付会话
// ============================================================

// CreateSessionRequest 创建支付会话请求
type CreateSessionRequest struct {
	ZipCodes       []string `json:"zip_codes"`
	SubscriptionID uint64   `json:"subscription_id"` // 续费时传原订阅 ID
}

// CreateSession 创建支付会话
// POST /transactions/create-session/:packageId
func (h *Handler) CreateSession(c *gin.Context) {
	packageID, err := strconv.ParseUint(c.Param("packageId"), 10, 64)
	if err != nil || packageID == 0 {
		response.ParamError(c, "packageId 参数错误")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.payments.CreatePaymentSession(c.Request.Context(), service.CreateSessionInput{
		BuyerID:        c.GetInt64(ctxAccountID),
		PackageID:      packageID,
		ZipCodes:       req.ZipCodes,
		SubscriptionID: req.SubscriptionID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 网关回调
// ============================================================

// Webhook 网关异步通知，签名基于原始报文
// POST /transactions/webhook
func (h *Handler) Webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "读取报文失败")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), rawBody, c.GetHeader(h.signatureHeader))
	if err != nil {
		if !errors.Is(err, apperr.ErrSignatureInvalid) {
			h.log.Warn("webhook 未生效", zap.String("trace_id", c.GetString(ctxTraceID)), zap.Error(err))
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// PaymentSuccess 买家从网关成功页返回
// GET /transactions/payment-success?order_id=xxx
func (h *Handler) PaymentSuccess(c *gin.Context) {
	orderID := c.Query("order_id")
	outcome := service.Outcome{OrderID: orderID}

	result, err := h.payments.ConfirmPaymentSuccess(c.Request.Context(), orderID)
	if err != nil {
		outcome.Err = err
	} else {
		outcome.Status = result.Status
		outcome.Provisional = result.Provisional
	}
	h.redirect(c, outcome)
}

// PaymentCancel 买家在网关页面取消
// GET /transactions/payment-cancel?order_id=xxx
func (h *Handler) PaymentCancel(c *gin.Context) {
	orderID := c.Query("order_id")
	outcome := service.Outcome{OrderID: orderID}

	result, err := h.payments.HandlePaymentCancel(c.Request.Context(), orderID)
	if err != nil {
		outcome.Err = err
	} else {
		outcome.Status = result.Status
	}
	h.redirect(c, outcome)
}

func (h *Handler) redirect(c *gin.Context, outcome service.Outcome) {
	if outcome.Err != nil {
		h.log.Warn("回跳处理失败",
			zap.String("order_id", outcome.OrderID),
			zap.String("path", c.Request.URL.Path),
			zap.Error(outcome.Err),
		)
	}
	r := h.redirects.Resolve(outcome)
	c.Redirect(r.StatusCode, r.Location)
}

// ============================================================
// 查询
// ============================================================

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func listResponse(c *gin.Context, txns []*model.Transaction, total int64, page, pageSize int) {
	response.Success(c, gin.H{
		"list":      txns,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListMine 当前买家的交易
// GET /transactions/my
func (h *Handler) ListMine(c *gin.Context) {
	page, pageSize := pagination(c)
	txns, total, err := h.payments.ListForBuyer(c.Request.Context(), c.GetInt64(ctxAccountID), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	listResponse(c, txns, total, page, pageSize)
}

// GetTransaction 交易详情，本人或管理员可见
// GET /transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	txn, err := h.payments.GetTransaction(c.Request.Context(), id, service.Viewer{
		BuyerID: c.GetInt64(ctxAccountID),
		IsAdmin: c.GetString(ctxRole) == RoleAdmin,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, txn)
}

// ============================================================
// 后台管理
// ============================================================

// AdminList 交易列表
// GET /admin/transactions?status=&buyer_id=
func (h *Handler) AdminList(c *gin.Context) {
	filter := repository.TransactionFilter{Status: c.Query("status")}
	if raw := c.Query("buyer_id"); raw != "" {
		buyerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.ParamError(c, "buyer_id 参数错误")
			return
		}
		filter.BuyerID = buyerID
	}

	page, pageSize := pagination(c)
	txns, total, err := h.payments.ListAll(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	listResponse(c, txns, total, page, pageSize)
}

// ForceComplete 人工完成交易
// POST /admin/transactions/:id/force-complete
func (h *Handler) ForceComplete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	result, err := h.payments.ForceComplete(c.Request.Context(), id, c.GetInt64(ctxAccountID))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// DeleteTransaction 删除未完成的交易
// DELETE /admin/transactions/:id
func (h *Handler) DeleteTransaction(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	if err := h.payments.DeleteTransaction(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "删除成功"})
}
