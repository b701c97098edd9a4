package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/wscompat"
)

func registerRoutes(r *gin.Engine, db *gorm.DB, hub *wsHub) {
	v1 := r.Group("/v1")

	v1.GET("/status", func(c *gin.Context) {
		snap, err := loadStatus(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	v1.POST("/wg0", toggleHandler(db, hub, tunnelPrimary))
	v1.POST("/ss", toggleHandler(db, hub, tunnelSecure))

	v1.PUT("/ss/profile", func(c *gin.Context) {
		var req struct {
			Profile string `json:"profile"`
			Restart bool   `json:"restart"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad request: " + err.Error()})
			return
		}
		p, ok := status.ParseProfile(req.Profile)
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "unknown profile " + req.Profile})
			return
		}
		reqID := uuid.NewString()
		if err := setTunnelProfile(db, tunnelSecure, string(p)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		audit(db, reqID, "ss_profile", string(p))
		if req.Restart {
			audit(db, reqID, "ss_restart", true)
		}
		finish(c, db, hub)
	})

	v1.POST("/apply", func(c *gin.Context) {
		var in status.ApplyIntent
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad request: " + err.Error()})
			return
		}
		if in.SSProfile != nil && !in.SSProfile.Known() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "unknown profile " + string(*in.SSProfile)})
			return
		}
		reqID := uuid.NewString()
		// Read-modify-write merge: only the provided fields change.
		err := db.Transaction(func(tx *gorm.DB) error {
			if in.WG0Enabled != nil {
				if err := setTunnelActive(tx, tunnelPrimary, *in.WG0Enabled); err != nil {
					return err
				}
				audit(tx, reqID, "wg0_enabled", *in.WG0Enabled)
			}
			if in.SSEnabled != nil {
				if err := setTunnelActive(tx, tunnelSecure, *in.SSEnabled); err != nil {
					return err
				}
				audit(tx, reqID, "ss_enabled", *in.SSEnabled)
			}
			if in.SSProfile != nil {
				if err := setTunnelProfile(tx, tunnelSecure, string(*in.SSProfile)); err != nil {
					return err
				}
				audit(tx, reqID, "ss_profile", string(*in.SSProfile))
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		finish(c, db, hub)
	})

	r.GET("/ws/status", func(c *gin.Context) {
		ws, err := wscompat.Accept(c.Writer, c.Request, &wscompat.AcceptOptions{})
		if err != nil {
			return
		}
		snap, err := loadStatus(db)
		if err == nil {
			if frame, err := status.StatusEnvelope(snap); err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = ws.Write(ctx, wscompat.MessageText, frame)
				cancel()
			}
		}
		hub.register(ws)
		ctx := c.Request.Context()
		done := make(chan struct{})
		// Server-side pings keep middleboxes from idling the socket out.
		go func() {
			t := time.NewTicker(20 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-t.C:
					pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = ws.Ping(pingCtx)
					cancel()
				}
			}
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				hub.unregister(ws)
				_ = ws.Close()
				close(done)
				return
			}
			// Panels send a literal liveness token; anything else from
			// a panel is ignored.
			if string(data) != status.KeepAliveToken {
				log.Printf("ws: unexpected frame from panel: %q", data)
			}
		}
	})
}

func toggleHandler(db *gorm.DB, hub *wsHub, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "enabled required"})
			return
		}
		if err := setTunnelActive(db, name, *req.Enabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		audit(db, uuid.NewString(), name+"_enabled", *req.Enabled)
		finish(c, db, hub)
	}
}

// finish responds with the post-change snapshot and pushes it to every
// connected panel.
func finish(c *gin.Context, db *gorm.DB, hub *wsHub) {
	snap, err := loadStatus(db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if frame, err := status.StatusEnvelope(snap); err == nil {
		hub.broadcast(frame)
	}
	c.JSON(http.StatusOK, snap)
}
