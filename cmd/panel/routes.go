package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/statusws"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/syncer"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/wscompat"
)

// wsPingEvery paces the server pings that keep an idle browser's push
// connection inside the read deadline. Tests shrink it.
var wsPingEvery = 20 * time.Second

func registerPanelRoutes(r *gin.Engine, s *syncer.Syncer, ch *statusws.Channel) {
	r.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "app.html", gin.H{
			"Profiles": status.Profiles,
		})
	})

	apiGroup := r.Group("/api")

	apiGroup.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.View())
	})

	apiGroup.POST("/toggle/:tunnel", func(c *gin.Context) {
		t, ok := syncer.ParseTunnel(c.Param("tunnel"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unknown tunnel " + c.Param("tunnel")})
			return
		}
		s.Toggle(t)
		c.JSON(http.StatusOK, s.View())
	})

	apiGroup.PUT("/profile", func(c *gin.Context) {
		var req struct {
			Profile string `json:"profile"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad request: " + err.Error()})
			return
		}
		if err := s.StageProfile(status.Profile(req.Profile)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.View())
	})

	apiGroup.POST("/apply", func(c *gin.Context) {
		err := s.ApplyAll(c.Request.Context())
		switch {
		case errors.Is(err, syncer.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
		case err != nil:
			// The error is already surfaced in the view; the page keeps
			// rendering with the inline message and retry control.
			c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
		default:
			c.JSON(http.StatusOK, s.View())
		}
	})

	apiGroup.POST("/reconnect", func(c *gin.Context) {
		ch.Reconnect()
		c.JSON(http.StatusOK, s.View())
	})

	apiGroup.POST("/dismiss", func(c *gin.Context) {
		s.ClearError()
		c.JSON(http.StatusOK, s.View())
	})

	// Push panel views to the browser so the page re-renders without
	// polling.
	r.GET("/ws", func(c *gin.Context) {
		ws, err := wscompat.Accept(c.Writer, c.Request, &wscompat.AcceptOptions{})
		if err != nil {
			return
		}
		sub := s.Subscribe()
		defer s.Unsubscribe(sub)
		ctx := c.Request.Context()
		done := make(chan struct{})
		// The page sends no frames of its own; pings keep it inside
		// the read deadline (browsers answer pongs automatically).
		go func() {
			t := time.NewTicker(wsPingEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-t.C:
					pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					err := ws.Ping(pingCtx)
					cancel()
					if err != nil {
						return
					}
				}
			}
		}()
		go func() {
			// The read loop only notices the close.
			for {
				if _, _, err := ws.Read(ctx); err != nil {
					// Unblocks the send loop below by closing sub.
					s.Unsubscribe(sub)
					return
				}
			}
		}()
		for view := range sub {
			data, err := json.Marshal(view)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = ws.Write(writeCtx, wscompat.MessageText, data)
			cancel()
			if err != nil {
				break
			}
		}
		close(done)
		_ = ws.CloseStatus(wscompat.StatusNormalClosure, "panel closed")
	})
}
