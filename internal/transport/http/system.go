package httptransport

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"nerfbot-server-go/internal/platform/storage"
)

// EventReader lists persisted audit events.
type EventReader interface {
	Recent(ctx context.Context, eventType string, limit int) ([]storage.FireEvent, error)
}

// MigrationReader lists applied schema migrations.
type MigrationReader interface {
	GetMigrationHistory() ([]storage.MigrationRecord, error)
}

// SystemService 健康检查、审计日志与指标路由
type SystemService struct {
	events     EventReader
	migrations MigrationReader
	gatherer   prometheus.Gatherer
	startedAt  time.Time
}

func NewSystemService(events EventReader, migrations MigrationReader, gatherer prometheus.Gatherer, startedAt time.Time) *SystemService {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &SystemService{events: events, migrations: migrations, gatherer: gatherer, startedAt: startedAt}
}

// RegisterPublic 注册无需认证的路由
func (s *SystemService) RegisterPublic(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Register 注册需要认证的路由
func (s *SystemService) Register(router *gin.RouterGroup) {
	router.GET("/events", s.handleEvents)
	router.GET("/system", s.handleSystem)
}

func (s *SystemService) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *SystemService) handleEvents(c *gin.Context) {
	if s.events == nil {
		RespondSuccess(c, http.StatusOK, []storage.FireEvent{}, "audit trail disabled")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := s.events.Recent(c.Request.Context(), c.Query("type"), limit)
	if err != nil {
		RespondDomainError(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, events, "")
}

type systemInfo struct {
	UptimeSeconds  int64                     `json:"uptime_seconds"`
	Goroutines     int                       `json:"goroutines"`
	CPUPercent     float64                   `json:"cpu_percent"`
	MemoryPercent  float64                   `json:"memory_percent"`
	MemoryUsedMB   uint64                    `json:"memory_used_mb"`
	MemoryTotalMB  uint64                    `json:"memory_total_mb"`
	HeapAllocBytes uint64                    `json:"heap_alloc_bytes"`
	Migrations     []storage.MigrationRecord `json:"migrations"`
}

func (s *SystemService) handleSystem(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info := systemInfo{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		Migrations:     []storage.MigrationRecord{},
	}
	if s.migrations != nil {
		history, err := s.migrations.GetMigrationHistory()
		if err != nil {
			RespondDomainError(c, err, nil)
			return
		}
		info.Migrations = history
	}
	ctx := c.Request.Context()
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryPercent = vm.UsedPercent
		info.MemoryUsedMB = vm.Used / 1024 / 1024
		info.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	RespondSuccess(c, http.StatusOK, info, "")
}
