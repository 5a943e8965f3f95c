// Command tunetally runs the listening analytics and recommendation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tunetally/tunetally/internal/analytics"
	"github.com/tunetally/tunetally/internal/charts"
	"github.com/tunetally/tunetally/internal/config"
	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/library"
	"github.com/tunetally/tunetally/internal/recommend"
	"github.com/tunetally/tunetally/internal/recorder"
	"github.com/tunetally/tunetally/internal/streaks"
	"github.com/tunetally/tunetally/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	chartsCfg, err := charts.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// The chart client is built once here and handed to its consumers; no
	// package reaches for it through global state.
	chartClient := charts.NewClient(chartsCfg)

	aggregator := analytics.New(database.Sessions(), database.Analytics())
	tracker := streaks.New(database.Streaks())
	fusion := library.New(database.Songs(), chartClient)
	generator := recommend.New(database.Songs(), fusion)

	rec := recorder.New(database.Sessions(),
		aggregator,
		tracker,
		markPlayedHook(database.Songs()),
	)

	server := web.NewServer(web.ServerConfig{
		Addr:      cfg.Addr,
		Recorder:  rec,
		Analytics: aggregator,
		Streaks:   tracker,
		Library:   fusion,
		Recommend: generator,
	})

	return server.Run()
}

// markPlayedHook keeps the library's play_count and last_played_at current
// for local (including downloaded) songs; transient online plays have no
// library row to update.
func markPlayedHook(songs *db.SongRepository) recorder.FinalizeHook {
	return recorder.HookFunc(func(ctx context.Context, session *db.ListeningSession) error {
		if session.SongID <= 0 {
			return nil
		}
		err := songs.MarkPlayed(ctx, session.SongID, session.StartTime)
		if errors.Is(err, db.ErrNotFound) {
			log.Printf("finalized session %s references unknown song %d", session.ID, session.SongID)
			return nil
		}
		return err
	})
}
