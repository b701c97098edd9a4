// controld is the reference controller daemon: it owns the
// authoritative tunnel state, serves the configuration API, and pushes
// a status snapshot to every connected panel after each change.
package main

import (
	"log"

	"github.com/gin-gonic/gin"
)

func main() {
	db := mustOpenDB()
	if err := db.AutoMigrate(&Tunnel{}, &ChangeEvent{}); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	if err := seedTunnels(db); err != nil {
		log.Fatalf("seed tunnels failed: %v", err)
	}

	hub := newWSHub()
	r := gin.Default()
	registerRoutes(r, db, hub)

	addr := envOrDefault("CONTROLD_ADDR", ":8080")
	log.Printf("controld listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("controld run failed: %v", err)
	}
}
