package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, jwtSecret string, log *zap.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(TraceIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	auth := JWTAuthMiddleware(jwtSecret)

	transactions := r.Group("/transactions")
	{
		// 网关与浏览器回调，无需登录
		transactions.POST("/webhook", h.Webhook)
		transactions.GET("/payment-success", h.PaymentSuccess)
		transactions.GET("/payment-cancel", h.PaymentCancel)

		transactions.POST("/create-session/:packageId", auth, h.CreateSession)
		transactions.GET("/my", auth, h.ListMine)
		transactions.GET("/:id", auth, h.GetTransaction)
	}

	admin := r.Group("/admin", auth, RoleMiddleware(RoleAdmin))
	{
		admin.GET("/transactions", h.AdminList)
		admin.POST("/transactions/:id/force-complete", h.ForceComplete)
		admin.DELETE("/transactions/:id", h.DeleteTransaction)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
