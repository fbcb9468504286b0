package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/core/service"
)

// HTTPHandler is the thin view layer: it decodes requests, calls one
// service method and serializes the structured (code, message) result.
// Business error codes double as HTTP status codes.
type HTTPHandler struct {
	accounts *service.AccountService
	catalog  *service.CatalogService
	orders   *service.OrderService
}

func NewHTTPHandler(accounts *service.AccountService, catalog *service.CatalogService, orders *service.OrderService) *HTTPHandler {
	return &HTTPHandler{accounts: accounts, catalog: catalog, orders: orders}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	auth := r.Group("/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/logout", h.Logout)
	auth.POST("/unregister", h.Unregister)
	auth.POST("/password", h.ChangePassword)

	seller := r.Group("/seller")
	seller.POST("/create_store", h.CreateStore)
	seller.POST("/add_book", h.AddBook)
	seller.POST("/add_stock_level", h.AddStockLevel)
	seller.POST("/ship_order", h.ShipOrder)

	buyer := r.Group("/buyer")
	buyer.POST("/new_order", h.NewOrder)
	buyer.POST("/payment", h.Payment)
	buyer.POST("/add_funds", h.AddFunds)
	buyer.POST("/confirm_receipt", h.ConfirmReceipt)
	buyer.POST("/cancel_order", h.CancelOrder)
	buyer.GET("/orders", h.ListOrders)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeOK(c *gin.Context, extra gin.H) {
	body := gin.H{"message": "ok"}
	for key, value := range extra {
		body[key] = value
	}
	c.JSON(http.StatusOK, body)
}

func writeError(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		c.JSON(de.Code, gin.H{"message": de.Message})
		return
	}
	c.JSON(domain.CodeInternalError, gin.H{"message": err.Error()})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return false
	}
	return true
}

type registerRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *HTTPHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.accounts.Register(c.Request.Context(), req.UserID, req.Password); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
	Terminal string `json:"terminal"`
}

func (h *HTTPHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	token, err := h.accounts.Login(c.Request.Context(), req.UserID, req.Password, req.Terminal)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"token": token})
}

type logoutRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Token  string `json:"token" binding:"required"`
}

func (h *HTTPHandler) Logout(c *gin.Context) {
	var req logoutRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.accounts.Logout(c.Request.Context(), req.UserID, req.Token); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

func (h *HTTPHandler) Unregister(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.accounts.Unregister(c.Request.Context(), req.UserID, req.Password); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type changePasswordRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *HTTPHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.accounts.ChangePassword(c.Request.Context(), req.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type createStoreRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	StoreID string `json:"store_id" binding:"required"`
}

func (h *HTTPHandler) CreateStore(c *gin.Context) {
	var req createStoreRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.catalog.CreateStore(c.Request.Context(), req.UserID, req.StoreID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type addBookRequest struct {
	UserID     string          `json:"user_id" binding:"required"`
	StoreID    string          `json:"store_id" binding:"required"`
	BookID     string          `json:"book_id" binding:"required"`
	BookInfo   json.RawMessage `json:"book_info"`
	StockLevel int             `json:"stock_level"`
}

func (h *HTTPHandler) AddBook(c *gin.Context) {
	var req addBookRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.catalog.AddBook(c.Request.Context(), req.UserID, req.StoreID, req.BookID,
		string(req.BookInfo), req.StockLevel)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type addStockRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	StoreID       string `json:"store_id" binding:"required"`
	BookID        string `json:"book_id" binding:"required"`
	AddStockLevel int    `json:"add_stock_level" binding:"required"`
}

func (h *HTTPHandler) AddStockLevel(c *gin.Context) {
	var req addStockRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.catalog.AddStockLevel(c.Request.Context(), req.UserID, req.StoreID, req.BookID, req.AddStockLevel)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type shipOrderRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	StoreID string `json:"store_id" binding:"required"`
	OrderID string `json:"order_id" binding:"required"`
}

func (h *HTTPHandler) ShipOrder(c *gin.Context) {
	var req shipOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.orders.ShipOrder(c.Request.Context(), req.UserID, req.StoreID, req.OrderID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type newOrderRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	StoreID string `json:"store_id" binding:"required"`
	Books   []struct {
		ID    string `json:"id" binding:"required"`
		Count int    `json:"count" binding:"required,gt=0"`
	} `json:"books" binding:"required,min=1"`
}

func (h *HTTPHandler) NewOrder(c *gin.Context) {
	var req newOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	lines := make([]domain.OrderLine, 0, len(req.Books))
	for _, book := range req.Books {
		lines = append(lines, domain.OrderLine{BookID: book.ID, Count: book.Count})
	}
	orderID, err := h.orders.NewOrder(c.Request.Context(), req.UserID, req.StoreID, lines)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"order_id": orderID})
}

type paymentRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
	OrderID  string `json:"order_id" binding:"required"`
}

func (h *HTTPHandler) Payment(c *gin.Context) {
	var req paymentRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.orders.Payment(c.Request.Context(), req.UserID, req.Password, req.OrderID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type addFundsRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
	AddValue int64  `json:"add_value" binding:"required"`
}

func (h *HTTPHandler) AddFunds(c *gin.Context) {
	var req addFundsRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.orders.AddFunds(c.Request.Context(), req.UserID, req.Password, req.AddValue); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type confirmReceiptRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	OrderID string `json:"order_id" binding:"required"`
}

func (h *HTTPHandler) ConfirmReceipt(c *gin.Context) {
	var req confirmReceiptRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.orders.ConfirmReceipt(c.Request.Context(), req.UserID, req.OrderID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type cancelOrderRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password"`
	OrderID  string `json:"order_id" binding:"required"`
}

func (h *HTTPHandler) CancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.orders.CancelOrder(c.Request.Context(), req.UserID, req.Password, req.OrderID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, nil)
}

type orderItemResponse struct {
	BookID string `json:"book_id"`
	Count  int    `json:"count"`
	Price  int64  `json:"price"`
}

type orderResponse struct {
	OrderID      string              `json:"order_id"`
	UserID       string              `json:"user_id"`
	StoreID      string              `json:"store_id"`
	Status       string              `json:"status"`
	TotalPrice   int64               `json:"total_price"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
	PaymentTime  *string             `json:"payment_time"`
	ShipmentTime *string             `json:"shipment_time"`
	DeliveryTime *string             `json:"delivery_time"`
	ExpiresAt    *string             `json:"expires_at"`
	Items        []orderItemResponse `json:"items"`
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user_id is required"})
		return
	}
	status := domain.OrderStatus(c.Query("status"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.orders.ListOrders(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	orders := make([]orderResponse, 0, len(result.Orders))
	for _, entry := range result.Orders {
		orders = append(orders, renderOrder(entry))
	}
	writeOK(c, gin.H{
		"page":      result.Page,
		"page_size": result.PageSize,
		"total":     result.Total,
		"orders":    orders,
	})
}

func renderOrder(entry service.OrderWithItems) orderResponse {
	order := entry.Order
	resp := orderResponse{
		OrderID:      order.OrderID,
		UserID:       order.UserID,
		StoreID:      order.StoreID,
		Status:       string(order.Status),
		TotalPrice:   order.TotalPrice,
		CreatedAt:    order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    order.UpdatedAt.Format(time.RFC3339),
		PaymentTime:  formatTime(order.PaymentTime),
		ShipmentTime: formatTime(order.ShipmentTime),
		DeliveryTime: formatTime(order.DeliveryTime),
		ExpiresAt:    formatTime(order.ExpiresAt),
		Items:        make([]orderItemResponse, 0, len(entry.Items)),
	}
	for _, item := range entry.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			BookID: item.BookID,
			Count:  item.Count,
			Price:  item.UnitPrice,
		})
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
