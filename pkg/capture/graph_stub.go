//go:build !gstreamer

package capture

import (
	"errors"
	"log/slog"
)

const graphCompiled = false

func newGraphBackend(_ Config, _ *slog.Logger) (Backend, error) {
	return nil, errors.New("gstreamer backend not compiled in (build with -tags gstreamer)")
}
