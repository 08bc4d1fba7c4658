package config

import (
	"context"
	"os"
	"time"
)

// WatchAdmins reloads the config file on change and calls onUpdate with the
// latest admin list. It performs an initial load before entering the watch
// loop.
func WatchAdmins(ctx context.Context, path string, interval time.Duration, onUpdate func([]int64)) error {
	if path == "" {
		path = DefaultPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg.Admins)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				if onUpdate != nil {
					onUpdate(cfg.Admins)
				}
			}
		}
	}()

	return nil
}
