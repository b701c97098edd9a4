// panel is the control-panel daemon: it keeps a synchronized view of
// the controller's tunnel state over the push channel and serves a
// small dashboard (HTML + JSON API + websocket) to the browser.
package main

import (
	"embed"
	"flag"
	"html/template"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/api"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/statusws"
	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/syncer"
)

//go:embed templates/*
var templates embed.FS

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	client := api.New(cfg.Controller, cfg.requestTimeout)
	s := syncer.New(client, cfg.requestTimeout)
	ch := statusws.New(cfg.Controller, statusws.Options{
		OnSnapshot: s.ApplySnapshot,
		OnStateChange: func(st statusws.State, err error) {
			s.SetConnState(st.String(), err)
		},
	})
	ch.Start()
	defer ch.Close()

	r := gin.Default()
	tpl := template.Must(template.ParseFS(templates, "templates/*.html"))
	r.SetHTMLTemplate(tpl)
	registerPanelRoutes(r, s, ch)

	log.Printf("panel listening on %s (controller %s)", cfg.Listen, cfg.Controller)
	if err := r.Run(cfg.Listen); err != nil {
		log.Fatalf("panel run failed: %v", err)
	}
}
