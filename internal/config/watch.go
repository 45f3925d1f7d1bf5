package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher hot-reloads settings.json and the per-backend ini files,
// invoking onChange whenever one of them is rewritten.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(path string)
	done     chan struct{}
}

// Watch starts watching dir for changes to settings.json and the
// per-backend ini files. onChange is invoked with the changed file's path
// on a background goroutine; it must not block.
func Watch(dir string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, onChange: onChange, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isWatchedConfigFile(ev.Name) {
				continue
			}
			log.Info().Str("file", ev.Name).Msg("config: reload triggered")
			Reset()
			if w.onChange != nil {
				w.onChange(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: watcher error")
		}
	}
}

func isWatchedConfigFile(path string) bool {
	switch filepath.Base(path) {
	case "settings.json",
		MySQLConfigFile, ElasticsearchConfigFile, SQLiteConfigFile,
		MilvusConfigFile, ChromaDBConfigFile, RedisConfigFile:
		return true
	default:
		return false
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
