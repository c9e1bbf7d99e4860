//go:build !(linux && (amd64 || arm64))

package capture

import (
	"fmt"
	"log/slog"
	"runtime"
)

const v4l2Compiled = false

func newV4L2Backend(_ Config, _ *slog.Logger) (Backend, error) {
	return nil, fmt.Errorf("v4l2 capture is not available on %s/%s", runtime.GOOS, runtime.GOARCH)
}
