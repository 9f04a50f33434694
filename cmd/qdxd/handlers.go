package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/devzendo/qdx-receiver/pkg/logging"
	"github.com/devzendo/qdx-receiver/pkg/tuner"
)

// handleGetStatus returns the daemon status snapshot
func (d *QDXDaemon) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, d.coreEngine.Status())
}

// handleGetFrequency returns the displayed and confirmed frequencies
func (d *QDXDaemon) handleGetFrequency(c *gin.Context) {
	displayed, confirmed := d.coreEngine.PollFrequency()
	c.JSON(http.StatusOK, gin.H{
		"displayed": displayed,
		"confirmed": confirmed,
	})
}

// handleSetFrequency tunes the radio
func (d *QDXDaemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency int64 `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency required"})
		return
	}

	if err := d.coreEngine.RequestFrequency(req.Frequency); err != nil {
		c.JSON(statusForTuneError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"displayed": d.coreEngine.PollDisplayed()})
}

// handleAdjustDigit bumps one decimal digit of the displayed frequency
func (d *QDXDaemon) handleAdjustDigit(c *gin.Context) {
	var req struct {
		Position int `json:"position"`
		Delta    int `json:"delta" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position and delta required"})
		return
	}

	if err := d.coreEngine.AdjustDigit(req.Position, req.Delta); err != nil {
		c.JSON(statusForTuneError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"displayed": d.coreEngine.PollDisplayed()})
}

// handleSelectBand tunes to a band preset
func (d *QDXDaemon) handleSelectBand(c *gin.Context) {
	var req struct {
		Band int `json:"band" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "band required"})
		return
	}

	if err := d.coreEngine.SelectPreset(req.Band); err != nil {
		c.JSON(statusForTuneError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"displayed": d.coreEngine.PollDisplayed()})
}

// handleGetBands lists the band presets
func (d *QDXDaemon) handleGetBands(c *gin.Context) {
	bands := make([]gin.H, 0)
	for _, band := range tuner.Bands() {
		hz, _ := tuner.BandFrequency(band)
		bands = append(bands, gin.H{
			"band":      band,
			"frequency": hz,
		})
	}
	c.JSON(http.StatusOK, gin.H{"bands": bands})
}

// handleGetMeter returns the latest signal meter reading
func (d *QDXDaemon) handleGetMeter(c *gin.Context) {
	c.JSON(http.StatusOK, d.coreEngine.PollMeter())
}

// handleSetGain sets the playback gain
func (d *QDXDaemon) handleSetGain(c *gin.Context) {
	var req struct {
		Gain *float32 `json:"gain" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || *req.Gain < 0 || *req.Gain > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gain must be 0.0..1.0"})
		return
	}

	d.coreEngine.SetGain(*req.Gain)
	c.JSON(http.StatusOK, gin.H{"gain": d.coreEngine.Gain()})
}

// handleSetMute mutes or unmutes playback
func (d *QDXDaemon) handleSetMute(c *gin.Context) {
	var req struct {
		Mute *bool `json:"mute" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mute required"})
		return
	}

	d.coreEngine.SetMute(*req.Mute)
	c.JSON(http.StatusOK, gin.H{"muted": d.coreEngine.Muted()})
}

// handleGetErrors drains the pending error queue
func (d *QDXDaemon) handleGetErrors(c *gin.Context) {
	drained := d.coreEngine.PollErrors()
	c.JSON(http.StatusOK, gin.H{
		"errors": drained,
		"count":  len(drained),
	})
}

// handleGetEvents returns the session event log
func (d *QDXDaemon) handleGetEvents(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	var (
		events interface{}
		err    error
	)
	if kind := c.Query("kind"); kind != "" {
		events, err = d.coreEngine.EventsByKind(kind, limit)
	} else {
		events, err = d.coreEngine.RecentEvents(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// statusForTuneError maps tuning failures to HTTP status codes: range
// rejections are the client's fault, everything else is the radio's.
func statusForTuneError(err error) int {
	var rerr *tuner.RangeError
	if errors.As(err, &rerr) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleMeterWebSocket streams meter readings and frequency state at 10Hz.
func (d *QDXDaemon) handleMeterWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("daemon", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Infof("daemon", "Meter WebSocket client connected")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// Drain client frames so pings and closes are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			reading := d.coreEngine.PollMeter()
			displayed, confirmed := d.coreEngine.PollFrequency()

			data := map[string]interface{}{
				"type":      "meter",
				"value":     reading.Value,
				"label":     reading.Label,
				"seq":       reading.Seq,
				"timestamp": reading.Timestamp,
				"displayed": displayed,
				"confirmed": confirmed,
			}

			if err := conn.WriteJSON(data); err != nil {
				logging.Debugf("daemon", "WebSocket write error: %v", err)
				return
			}

		case <-clientGone:
			logging.Infof("daemon", "Meter WebSocket client disconnected")
			return

		case <-d.ctx.Done():
			return
		}
	}
}
