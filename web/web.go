// Package web exposes a read-mostly diagnostics API over the managed devices
// plus the settings write-back endpoint.
package web

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/XANi/espbridge/device"
	"github.com/XANi/espbridge/store"
)

type Config struct {
	Logger     *zap.SugaredLogger
	ListenAddr string
	NodeName   string
}

type Server struct {
	cfg     Config
	engine  *gin.Engine
	devices map[string]*device.Device
	store   *store.Store
}

func New(cfg Config, devices []*device.Device, st *store.Store) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	logger := cfg.Logger.Desugar()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		devices: map[string]*device.Device{},
		store:   st,
	}
	for _, d := range devices {
		s.devices[d.ID()] = d
	}

	api := engine.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.GET("/devices", s.listDevices)
	api.GET("/devices/:id", s.getDevice)
	api.GET("/devices/:id/settings", s.getSettings)
	api.GET("/devices/:id/capabilities", s.getCapabilities)
	api.PUT("/devices/:id/settings/:key", s.putSetting)
	return s, nil
}

func (s *Server) Run() error {
	return s.engine.Run(s.cfg.ListenAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"node": s.cfg.NodeName, "devices": len(s.devices)})
}

func (s *Server) listDevices(c *gin.Context) {
	out := make([]device.Status, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Status())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) lookup(c *gin.Context) (*device.Device, bool) {
	d, ok := s.devices[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such device"})
	}
	return d, ok
}

func (s *Server) getDevice(c *gin.Context) {
	d, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (s *Server) getSettings(c *gin.Context) {
	d, ok := s.lookup(c)
	if !ok {
		return
	}
	settings, err := s.store.Settings(d.ID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) getCapabilities(c *gin.Context) {
	d, ok := s.lookup(c)
	if !ok {
		return
	}
	capabilities, err := s.store.Capabilities(d.ID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, capabilities)
}

type settingUpdate struct {
	Value any `json:"value"`
}

// putSetting is the user-originated settings path: it commands the live
// entity and reports failures instead of swallowing them.
func (s *Server) putSetting(c *gin.Context) {
	d, ok := s.lookup(c)
	if !ok {
		return
	}
	var body settingUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := d.ApplySetting(c.Param("key"), body.Value)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "applied"})
	case errors.Is(err, device.ErrMissingEntity):
		// the device no longer exposes this entity, caller should resync
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var verr *device.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
