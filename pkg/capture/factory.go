package capture

import (
	"fmt"
	"log/slog"
)

// NewBackend creates the backend named by cfg.Backend. KindAuto prefers a
// compiled-in GStreamer graph, then V4L2, then the mock.
func NewBackend(cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	kind := cfg.Backend
	if kind == KindAuto {
		kind = autoKind()
	}
	logger.Info("creating capture backend", "requested", string(cfg.Backend), "backend", string(kind))

	switch kind {
	case KindGStreamer:
		return newGraphBackend(cfg, logger)
	case KindV4L2:
		return newV4L2Backend(cfg, logger)
	case KindMock:
		return NewMockBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func autoKind() Kind {
	switch {
	case graphCompiled:
		return KindGStreamer
	case v4l2Compiled:
		return KindV4L2
	default:
		return KindMock
	}
}

// AvailableBackends lists the backends usable in this binary, best first.
func AvailableBackends() []Kind {
	var kinds []Kind
	if graphCompiled {
		kinds = append(kinds, KindGStreamer)
	}
	if v4l2Compiled {
		kinds = append(kinds, KindV4L2)
	}
	return append(kinds, KindMock)
}
