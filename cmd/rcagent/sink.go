package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"rcagent/internal/product"
)

// newFileSink builds a pipeline that materializes each published batch into
// spoolDir/<product>/<config id>.json. Removals delete the file. Writes go
// through a temp file and rename so readers never see partial content.
func newFileSink(name, spoolDir string, log *slog.Logger) *product.Pipeline {
	dir := filepath.Join(spoolDir, name)

	return product.NewPipeline(name, func(batch []product.Update) {
		for _, u := range batch {
			target := filepath.Join(dir, u.Metadata.ID+".json")

			if u.Content == nil {
				if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
					log.Warn("failed to remove config file", "product", name, "path", target, "error", err)
					continue
				}
				log.Info("removed config", "product", name, "config_id", u.Metadata.ID)
				continue
			}

			if err := writeFileAtomic(target, u.Content); err != nil {
				log.Warn("failed to write config file", "product", name, "path", target, "error", err)
				continue
			}
			log.Info("wrote config", "product", name, "config_id", u.Metadata.ID, "version", u.Metadata.TUFVersion, "bytes", len(u.Content))
		}
	})
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
