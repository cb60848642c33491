package compiler

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Watch lowers name once and then again every time it's written,
// until ctx is canceled. Results are passed to fn.
// The directory is watched, so editors replacing the file are handled.
func (l *Lowerer) Watch(ctx context.Context, name string, fn func(out []byte, err error)) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "watch", "name", name)
	defer tr.Finish("err", &err)

	name = filepath.Clean(name)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}

	defer func() {
		e := w.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close watcher")
		}
	}()

	err = w.Add(filepath.Dir(name))
	if err != nil {
		return errors.Wrap(err, "watch dir")
	}

	fn(l.LowerFile(ctx, name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			tr.V("watch").Printw("changed", "op", ev.Op.String())

			fn(l.LowerFile(ctx, name))
		case e, ok := <-w.Errors:
			if !ok {
				return nil
			}

			return errors.Wrap(e, "watcher")
		}
	}
}
