package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
)

const (
	tunnelPrimary = "wg0"
	tunnelSecure  = "ss"
)

// mustOpenDB opens sqlite by default, or whatever DB_DSN points at
// ("sqlite:/path/to.db" or a mysql DSN).
func mustOpenDB() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		db, err := gorm.Open(sqlite.Open("controld.db"), &gorm.Config{})
		if err != nil {
			log.Fatalf("open sqlite failed: %v", err)
		}
		return db
	}
	if strings.HasPrefix(dsn, "sqlite:") {
		path := strings.TrimPrefix(dsn, "sqlite:")
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			log.Fatalf("open sqlite failed: %v", err)
		}
		return db
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open mysql failed: %v", err)
	}
	return db
}

// seedTunnels makes sure the two tunnel rows exist. The secure tunnel
// starts on the first known profile.
func seedTunnels(db *gorm.DB) error {
	for _, name := range []string{tunnelPrimary, tunnelSecure} {
		var cnt int64
		if err := db.Model(&Tunnel{}).Where("name = ?", name).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			continue
		}
		row := Tunnel{Name: name}
		if name == tunnelSecure {
			row.Profile = string(status.Profiles[0])
		}
		if err := db.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// loadStatus builds the wire snapshot from the tunnel rows.
func loadStatus(db *gorm.DB) (status.SystemStatus, error) {
	var rows []Tunnel
	if err := db.Find(&rows).Error; err != nil {
		return status.SystemStatus{}, err
	}
	var out status.SystemStatus
	for _, r := range rows {
		switch r.Name {
		case tunnelPrimary:
			out.WG0 = status.TunnelState{Active: r.Active, Profile: r.Profile}
		case tunnelSecure:
			out.SS = status.TunnelState{Active: r.Active, Profile: r.Profile}
		}
	}
	return out, nil
}

func setTunnelActive(db *gorm.DB, name string, active bool) error {
	return db.Model(&Tunnel{}).Where("name = ?", name).Update("active", active).Error
}

func setTunnelProfile(db *gorm.DB, name, profile string) error {
	return db.Model(&Tunnel{}).Where("name = ?", name).Update("profile", profile).Error
}

// audit records one applied field change under the request id.
func audit(db *gorm.DB, requestID, field string, value interface{}) {
	ev := ChangeEvent{RequestID: requestID, Field: field, Value: fmt.Sprint(value)}
	if err := db.Create(&ev).Error; err != nil {
		log.Printf("audit write failed: %v", err)
	}
}
