package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderlanelabs/orderlane/internal/domain"
	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	aftersalesuc "github.com/orderlanelabs/orderlane/internal/usecase/aftersales"
)

type requestExchangeBody struct {
	OrderID  int64  `json:"order_id,string" binding:"required"`
	SKU      string `json:"sku" binding:"required"`
	NewSKU   string `json:"new_sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

type requestReturnBody struct {
	OrderID  int64  `json:"order_id,string" binding:"required"`
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

type receiverBody struct {
	CarrierCode string `json:"carrier_code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Phone       string `json:"phone" binding:"required"`
	Postcode    string `json:"postcode" binding:"required"`
	Address     string `json:"address" binding:"required"`
}

func (b receiverBody) receiver() aftersalesuc.Receiver {
	return aftersalesuc.Receiver{
		CarrierCode: b.CarrierCode,
		Name:        b.Name,
		Phone:       b.Phone,
		Postcode:    b.Postcode,
		Address:     b.Address,
	}
}

type rejectBody struct {
	Reason string `json:"reason" binding:"required"`
}

func (r *Router) RequestExchange(c *gin.Context) {
	var body requestExchangeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	exchange, err := r.aftersalesUC.RequestExchange(c.Request.Context(), body.OrderID, body.SKU, body.NewSKU, body.Quantity)
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exchange)
}

func (r *Router) GetExchange(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	exchange, err := r.aftersales.FindExchange(c.Request.Context(), id)
	if err != nil {
		r.respondError(c, err)
		return
	}
	if exchange == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "exchange not found"})
		return
	}

	history, err := r.aftersales.ListHistory(c.Request.Context(), aftersales.AggregateExchange, id)
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exchange": exchange, "history": history})
}

func (r *Router) ApproveExchange(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body receiverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	exchange, err := r.aftersalesUC.ApproveExchange(c.Request.Context(), id, body.receiver())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (r *Router) RejectExchange(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	exchange, err := r.aftersalesUC.RejectExchange(c.Request.Context(), id, body.Reason)
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (r *Router) ShipExchange(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body receiverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	exchange, err := r.aftersalesUC.ShipExchange(c.Request.Context(), id, body.receiver())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (r *Router) ReissueExchangeLabel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body receiverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	exchange, err := r.aftersalesUC.ReissueCollectionLabel(c.Request.Context(), id, body.receiver())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (r *Router) RequestReturn(c *gin.Context) {
	var body requestReturnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ret, err := r.aftersalesUC.RequestReturn(c.Request.Context(), body.OrderID, body.SKU, body.Quantity)
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ret)
}

func (r *Router) GetReturn(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ret, err := r.aftersales.FindReturn(c.Request.Context(), id)
	if err != nil {
		r.respondError(c, err)
		return
	}
	if ret == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "return not found"})
		return
	}

	history, err := r.aftersales.ListHistory(c.Request.Context(), aftersales.AggregateReturn, id)
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"return": ret, "history": history})
}

func (r *Router) ApproveReturn(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body receiverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ret, err := r.aftersalesUC.ApproveReturn(c.Request.Context(), id, body.receiver())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (r *Router) RejectReturn(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ret, err := r.aftersalesUC.RejectReturn(c.Request.Context(), id, body.Reason)
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (r *Router) GetProduct(c *gin.Context) {
	product, err := r.inventory.FindBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		r.respondError(c, err)
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, product)
}

func (r *Router) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, aftersales.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
