package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"quizdesk/internal/app"
	"quizdesk/internal/db"
)

func main() {
	cfg := app.LoadConfig()

	pool := db.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns
	pool.ConnMaxLifetime = time.Duration(cfg.DBConnMaxLifeMins) * time.Minute

	dbConn, err := db.OpenWithConfig(context.Background(), cfg.DBDSN, pool)
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	r := app.NewRouter(cfg, dbConn)

	log.Printf("quizdesk web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
