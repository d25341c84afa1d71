package core

import (
	"fmt"
	"os"
	"path/filepath"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/schema"
)

// setupWorkspace creates the per-session scratch directory. Mode 0755 so a
// privilege-demoted preview server can read it.
func setupWorkspace(root string, id schema.SessionID) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	dir := filepath.Join(root, fmt.Sprintf("session-%s", id))
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return dir, nil
		}
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// verifyWorkspace checks what the engine produced and loosens file modes so
// the demoted preview server can serve them. Missing index.html is logged,
// not fatal; the preview start will surface it anyway.
func verifyWorkspace(log pslog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("workspace verification failed", "err", err)
		return
	}
	log.Info("workspace verified", "files", len(entries))

	indexPath := filepath.Join(dir, "index.html")
	if info, err := os.Stat(indexPath); err == nil {
		if err := os.Chmod(indexPath, 0o644); err != nil {
			log.Warn("index.html chmod failed", "err", err)
		}
		log.Info("index.html present", "bytes", info.Size())
	} else {
		log.Warn("index.html not found after turn")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Chmod(path, 0o644); err != nil {
			log.Debug("chmod failed", "path", path, "err", err)
		}
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		log.Debug("workspace chmod failed", "err", err)
	}
}

func removeWorkspace(log pslog.Logger, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("workspace cleanup failed", "dir", dir, "err", err)
	}
}
