package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rewarder/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (h *handlers) health(c *gin.Context) {
	if h.deps.Health != nil {
		if err := h.deps.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) settle(c *gin.Context) {
	var req settlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, describeBindError(err))
		return
	}

	baseAmount, err := decimal.NewFromString(strings.TrimSpace(req.BaseAmount))
	if err != nil {
		badRequest(c, "base_amount is not a decimal")
		return
	}

	result, err := h.deps.Settlements.Settle(c.Request.Context(), models.SettlementRequest{
		ExternalRef: req.ExternalRef,
		MerchantRef: req.MerchantRef,
		UserRef:     req.UserRef,
		BaseAmount:  baseAmount,
		CampaignRef: req.CampaignRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, settlementResultResponse{
		Settlement: newSettlementResponse(result.Settlement),
		Payout:     newBudgetTransactionResponse(result.Payout),
		Earn:       newPointsTransactionResponse(result.Earn),
	})
}

func (h *handlers) getSettlement(c *gin.Context) {
	settlement, err := h.deps.Settlements.Get(c.Request.Context(), c.Param("externalRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettlementResponse(settlement))
}

func (h *handlers) reverseSettlement(c *gin.Context) {
	settlement, err := h.deps.Settlements.Reverse(c.Request.Context(), c.Param("externalRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettlementResponse(settlement))
}

func (h *handlers) verify(c *gin.Context) {
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, describeBindError(err))
		return
	}

	count, err := h.deps.Points.Verify(c.Request.Context(), req.ExternalRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_count": count})
}

func (h *handlers) getBudget(c *gin.Context) {
	account, err := h.deps.Budget.GetAccount(c.Request.Context(), c.Param("merchantRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBudgetAccountResponse(account))
}

func (h *handlers) listBudgetTransactions(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	txns, err := h.deps.Budget.ListTransactions(c.Request.Context(), c.Param("merchantRef"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]*budgetTransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, newBudgetTransactionResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *handlers) loadBudget(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, describeBindError(err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "budget load"
	}

	txn, err := h.deps.Budget.Credit(c.Request.Context(), c.Param("merchantRef"), amount, reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBudgetTransactionResponse(txn))
}

func (h *handlers) setBudgetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, describeBindError(err))
		return
	}

	account, err := h.deps.Budget.SetStatus(c.Request.Context(), c.Param("merchantRef"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBudgetAccountResponse(account))
}

func (h *handlers) getWallet(c *gin.Context) {
	wallet, err := h.deps.Points.GetWallet(c.Request.Context(), c.Param("userRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newWalletResponse(wallet))
}

func (h *handlers) listWalletTransactions(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	txns, err := h.deps.Points.ListTransactions(c.Request.Context(), c.Param("userRef"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]*pointsTransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, newPointsTransactionResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *handlers) redeem(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, describeBindError(err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	txn, err := h.deps.Points.Redeem(c.Request.Context(), c.Param("userRef"), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPointsTransactionResponse(txn))
}

func (h *handlers) listFailed(c *gin.Context) {
	queue, store, ok := h.queue(c)
	if !ok {
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	items, err := queue.ListFailed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dueItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newDueItemResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"store": store, "items": out})
}

// queueStats reports item counts per status for every store
func (h *handlers) queueStats(c *gin.Context) {
	out := make(map[string]map[models.DueItemStatus]int64, len(h.deps.Queues))
	for name, q := range h.deps.Queues {
		counts, err := q.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		out[name] = counts
	}
	c.JSON(http.StatusOK, gin.H{"stores": out})
}

func (h *handlers) requeue(c *gin.Context) {
	queue, _, ok := h.queue(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id must be a positive integer")
		return
	}

	item, err := queue.Requeue(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newDueItemResponse(item))
}

// queue resolves the ?store= parameter. It may be omitted when only one
// dispatcher runs.
func (h *handlers) queue(c *gin.Context) (FailedItemQueue, string, bool) {
	store := c.Query("store")
	if store == "" && len(h.deps.Queues) == 1 {
		for name, q := range h.deps.Queues {
			return q, name, true
		}
	}

	q, ok := h.deps.Queues[store]
	if !ok {
		badRequest(c, fmt.Sprintf("unknown store %q", store))
		return nil, "", false
	}
	return q, store, true
}

func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return limit, true
}
