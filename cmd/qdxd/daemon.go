package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devzendo/qdx-receiver/pkg/audio"
	"github.com/devzendo/qdx-receiver/pkg/cat"
	"github.com/devzendo/qdx-receiver/pkg/client"
	"github.com/devzendo/qdx-receiver/pkg/config"
	"github.com/devzendo/qdx-receiver/pkg/engine"
	"github.com/devzendo/qdx-receiver/pkg/logging"
	"github.com/devzendo/qdx-receiver/pkg/storage"
)

// QDXDaemon wires the core engine to the web interface and Unix socket.
type QDXDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	webServer    *http.Server

	audioHost *audio.PortAudioHost
	catPort   io.ReadWriteCloser
	eventLog  *storage.EventLog
}

// NewQDXDaemon creates a daemon instance: PortAudio host, CAT serial port,
// event log, core engine, web server.
func NewQDXDaemon(cfg *config.Config) (*QDXDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &QDXDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		socketClient: client.NewSocketClient(cfg.API.UnixSocket),
	}

	host, err := audio.NewPortAudioHost()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize audio: %w", err)
	}
	daemon.audioHost = host

	// The radio is optional: audio relay still runs without CAT control.
	catDevice := cfg.CAT.Device
	port, err := cat.OpenPort(catDevice, cfg.CAT.BaudRate)
	if err != nil {
		logging.Warnf("daemon", "CAT unavailable, tuning disabled: %v", err)
	} else {
		daemon.catPort = port
		if catDevice == "" {
			catDevice = "auto"
		}
	}

	if cfg.Storage.DatabasePath != "" {
		eventLog, err := storage.NewEventLog(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
		if err != nil {
			logging.Warnf("daemon", "Event log unavailable: %v", err)
		} else {
			daemon.eventLog = eventLog
		}
	}

	daemon.coreEngine = engine.NewCoreEngine(cfg, host, daemon.catPort, catDevice, daemon.eventLog)

	if err := daemon.setupWebServer(); err != nil {
		daemon.closeResources()
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the daemon
func (d *QDXDaemon) Start() error {
	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	// Wait a moment for socket to be ready
	time.Sleep(100 * time.Millisecond)

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
		logging.Infof("daemon", "Starting web server on %s", addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *QDXDaemon) Stop() error {
	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "Web server shutdown error: %v", err)
		}
	}

	if d.coreEngine != nil {
		if err := d.coreEngine.Stop(); err != nil {
			logging.Warnf("daemon", "Core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()
	d.closeResources()

	return nil
}

// closeResources releases the audio host and event log. The CAT port is
// closed by the engine's Stop.
func (d *QDXDaemon) closeResources() {
	if d.eventLog != nil {
		d.eventLog.Close()
	}
	if d.audioHost != nil {
		d.audioHost.Close()
	}
}

// setupWebServer initializes the web server and routes
func (d *QDXDaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/frequency", d.handleGetFrequency)
		api.PUT("/frequency", d.handleSetFrequency)
		api.POST("/frequency/digit", d.handleAdjustDigit)
		api.PUT("/band", d.handleSelectBand)
		api.GET("/bands", d.handleGetBands)
		api.GET("/meter", d.handleGetMeter)
		api.PUT("/gain", d.handleSetGain)
		api.PUT("/mute", d.handleSetMute)
		api.GET("/errors", d.handleGetErrors)
		api.GET("/events", d.handleGetEvents)
	}

	// Real-time meter stream
	router.GET("/ws/meter", d.handleMeterWebSocket)

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
