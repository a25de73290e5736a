package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nerfbot-server-go/internal/domain/gun"
	"nerfbot-server-go/internal/platform/errors"
	"nerfbot-server-go/internal/platform/logging"
)

// GunService 开火与枪控管理路由
type GunService struct {
	arbitrator *gun.Arbitrator
	logger     *logging.Logger
}

func NewGunService(arbitrator *gun.Arbitrator, logger *logging.Logger) (*GunService, error) {
	if arbitrator == nil {
		return nil, errors.New(errors.KindConfig, "http.gun.new", "arbitrator is required")
	}
	return &GunService{arbitrator: arbitrator, logger: logger}, nil
}

// Register 注册开火与枪控路由
func (s *GunService) Register(router *gin.RouterGroup) {
	router.POST("/fire", s.handleFire)

	g := router.Group("/gun")
	g.GET("/config", s.handleConfigGet)
	g.PUT("/config", s.handleConfigPut)
	g.POST("/reload", s.handleReload)
	g.GET("/status", s.handleStatus)
	g.POST("/stop", s.handleStop)
	g.POST("/reset", s.handleReset)
}

// fireRequest is posted by the chat bridge. Command, when set, carries the
// raw "!fire x y z" text and overrides X/Y/Shots.
type fireRequest struct {
	IntentID    string `json:"intent_id"`
	IdentityID  string `json:"identity_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Tier        int    `json:"tier"`
	IsOwner     bool   `json:"is_owner"`
	IsFollower  bool   `json:"is_follower"`
	Command     string `json:"command"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Shots       int    `json:"shots"`
}

func (s *GunService) handleFire(c *gin.Context) {
	var req fireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "identity_id is required", nil)
		return
	}
	intent := gun.FireIntent{
		ID:          req.IntentID,
		IdentityID:  req.IdentityID,
		DisplayName: req.DisplayName,
		Tier:        req.Tier,
		IsOwner:     req.IsOwner,
		IsFollower:  req.IsFollower,
		X:           req.X,
		Y:           req.Y,
		Shots:       req.Shots,
	}
	if req.Command != "" {
		x, y, shots, err := gun.ParseFireCommand(req.Command)
		if err != nil {
			RespondDomainError(c, err, nil)
			return
		}
		intent.X, intent.Y, intent.Shots = x, y, shots
	}

	result := s.arbitrator.HandleFireIntent(c.Request.Context(), intent)
	if result.Err != nil {
		_ = c.Error(result.Err)
		RespondError(c, StatusForError(result.Err), result.Message, result)
		return
	}
	RespondSuccess(c, http.StatusOK, result, result.Message)
}

func (s *GunService) handleConfigGet(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.arbitrator.Config().Current(), "")
}

// handleConfigPut merges the body over the current config, so partial
// bodies only change the fields they name.
func (s *GunService) handleConfigPut(c *gin.Context) {
	cfg := s.arbitrator.Config().Current()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid gun config", nil)
		return
	}
	if err := s.arbitrator.Config().Update(c.Request.Context(), cfg); err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	s.logger.InfoTag("开火", "gun config updated: %+v", cfg)
	RespondSuccess(c, http.StatusOK, cfg, "gun config updated")
}

func (s *GunService) handleReload(c *gin.Context) {
	cfg, err := s.arbitrator.Config().Reload(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, cfg, "gun config reloaded")
}

func (s *GunService) handleStatus(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.arbitrator.Status(c.Request.Context()), "")
}

func (s *GunService) handleStop(c *gin.Context) {
	msg, err := s.arbitrator.Stop(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"device": msg}, "gun stopped")
}

func (s *GunService) handleReset(c *gin.Context) {
	s.arbitrator.Reset()
	RespondSuccess(c, http.StatusOK, s.arbitrator.Status(c.Request.Context()).Session, "fault cleared")
}
