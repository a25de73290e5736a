package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nerfbot-server-go/internal/domain/ledger"
	"nerfbot-server-go/internal/platform/errors"
)

// LedgerService 积分账户管理路由
type LedgerService struct {
	ledger *ledger.Ledger
}

func NewLedgerService(l *ledger.Ledger) (*LedgerService, error) {
	if l == nil {
		return nil, errors.New(errors.KindConfig, "http.ledger.new", "ledger is required")
	}
	return &LedgerService{ledger: l}, nil
}

// Register 注册账户与价格路由
func (s *LedgerService) Register(router *gin.RouterGroup) {
	router.GET("/accounts/:id", s.handleAccountGet)
	router.POST("/accounts/:id/bonus", s.handleBonus)
	router.GET("/tiers/:tier", s.handleTierGet)
	router.PUT("/tiers/:tier", s.handleTierPut)
}

type accountResponse struct {
	IdentityID   string `json:"identity_id"`
	Tier         int    `json:"tier"`
	Balance      int64  `json:"balance"`
	BonusBalance int64  `json:"bonus_balance"`
	Available    int64  `json:"available"`
	Pending      int64  `json:"pending"`
}

func (s *LedgerService) handleAccountGet(c *gin.Context) {
	id := c.Param("id")
	acct, err := s.ledger.Account(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, accountResponse{
		IdentityID:   acct.IdentityID,
		Tier:         acct.Tier,
		Balance:      acct.Balance,
		BonusBalance: acct.BonusBalance,
		Available:    acct.Available(),
		Pending:      s.ledger.Pending(id),
	}, "")
}

type bonusRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (s *LedgerService) handleBonus(c *gin.Context) {
	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "amount is required", nil)
		return
	}
	bonus, err := s.ledger.GrantBonus(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"identity_id": c.Param("id"), "bonus_balance": bonus}, "bonus granted")
}

func tierParam(c *gin.Context) (int, bool) {
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil || tier < 0 {
		RespondError(c, http.StatusBadRequest, "tier must be a non-negative integer", nil)
		return 0, false
	}
	return tier, true
}

func (s *LedgerService) handleTierGet(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{
		"tier":             tier,
		"credits_per_shot": s.ledger.PricePerShot(c.Request.Context(), tier),
		"initial_credits":  ledger.InitialCredits(tier),
	}, "")
}

type tierRequest struct {
	CreditsPerShot int64 `json:"credits_per_shot" binding:"required"`
}

func (s *LedgerService) handleTierPut(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "credits_per_shot is required", nil)
		return
	}
	if err := s.ledger.SetTierPrice(c.Request.Context(), tier, req.CreditsPerShot); err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"tier": tier, "credits_per_shot": req.CreditsPerShot}, "tier price updated")
}
