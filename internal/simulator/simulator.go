package simulator

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const logTag = "模拟器"

// Logger is the logging contract used by the simulator.
type Logger interface {
	InfoTag(tag, msg string, args ...any)
}

// Options tunes the simulated launcher.
type Options struct {
	// ShotDuration is how long the device stays busy per shot.
	ShotDuration time.Duration
	// MaxShots clamps accepted bursts. Zero disables clamping.
	MaxShots int
	// KOChance is the probability of jamming per KOCheckInterval.
	KOChance        float64
	KOCheckInterval time.Duration
	Logger          Logger
	Rand            *rand.Rand
}

// Simulator serves the launcher HTTP protocol backed by in-memory state.
type Simulator struct {
	opts Options

	mu        sync.Mutex
	status    string
	gen       uint64
	lastCheck time.Time
	fired     int
}

func New(opts Options) *Simulator {
	if opts.ShotDuration <= 0 {
		opts.ShotDuration = 500 * time.Millisecond
	}
	if opts.KOCheckInterval <= 0 {
		opts.KOCheckInterval = 10 * time.Minute
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{opts: opts, status: "idle", lastCheck: time.Now()}
}

// Handler returns the gin engine serving /nerf, /status and /stop.
func (s *Simulator) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/nerf", s.handleNerf)
	engine.POST("/nerf", s.handleNerf)
	engine.GET("/status", s.handleStatus)
	engine.GET("/stop", s.handleStop)
	engine.POST("/ko", s.handleKO)
	return engine
}

// Status returns the current simulated phase.
func (s *Simulator) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Fired returns the total number of shots accepted so far.
func (s *Simulator) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// maybeJam 按配置概率模拟卡弹，调用方需持有锁
func (s *Simulator) maybeJam(now time.Time) {
	if s.opts.KOChance <= 0 || now.Sub(s.lastCheck) < s.opts.KOCheckInterval {
		return
	}
	s.lastCheck = now
	if s.opts.Rand.Float64() < s.opts.KOChance {
		s.status = "ko"
		s.info("simulated jam")
	}
}

func intParam(c *gin.Context, names ...string) (int, bool) {
	for _, name := range names {
		raw := c.Query(name)
		if raw == "" {
			raw = c.PostForm(name)
		}
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, true
}

func (s *Simulator) handleNerf(c *gin.Context) {
	x, okX := intParam(c, "x")
	y, okY := intParam(c, "y")
	shots, okS := intParam(c, "shots", "shot")
	if !okX || !okY || !okS || shots < 0 {
		c.String(http.StatusBadRequest, "invalid parameters")
		return
	}

	s.mu.Lock()
	s.maybeJam(time.Now())
	switch s.status {
	case "ko":
		s.mu.Unlock()
		c.String(http.StatusServiceUnavailable, "Service Unavailable")
		return
	case "busy":
		s.mu.Unlock()
		c.String(http.StatusTooManyRequests, "Too Many Requests")
		return
	}
	if s.opts.MaxShots > 0 && shots > s.opts.MaxShots {
		shots = s.opts.MaxShots
	}
	s.status = "busy"
	s.gen++
	gen := s.gen
	s.fired += shots
	s.mu.Unlock()

	busyFor := time.Duration(shots) * s.opts.ShotDuration
	if busyFor == 0 {
		busyFor = s.opts.ShotDuration / 5
	}
	time.AfterFunc(busyFor, func() { s.finish(gen) })

	s.info("aim x=%d y=%d shots=%d", x, y, shots)
	c.String(http.StatusOK, fmt.Sprintf("Nerf activated: x=%d, y=%d, shots=%d", x, y, shots))
}

// finish returns the device to idle unless a stop or jam superseded gen.
func (s *Simulator) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.status == "busy" {
		s.status = "idle"
	}
}

func (s *Simulator) handleStatus(c *gin.Context) {
	s.mu.Lock()
	s.maybeJam(time.Now())
	status := s.status
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Simulator) handleStop(c *gin.Context) {
	s.mu.Lock()
	s.status = "idle"
	s.gen++
	s.mu.Unlock()
	s.info("stopped")
	c.String(http.StatusOK, "Nerf stopped")
}

func (s *Simulator) handleKO(c *gin.Context) {
	s.mu.Lock()
	s.status = "ko"
	s.gen++
	s.mu.Unlock()
	s.info("forced ko")
	c.JSON(http.StatusOK, gin.H{"status": "ko"})
}

func (s *Simulator) info(msg string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.InfoTag(logTag, msg, args...)
	}
}
