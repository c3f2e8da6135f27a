package progress

import (
	"log/slog"
)

// FailureHandler receives every failure of a run and the final summary.
// Handle is called from many goroutines at once.
type FailureHandler interface {
	Handle(f Failure)
	Summarize(s Summary)
}

// LoggingFailureHandler logs failures.
type LoggingFailureHandler struct {
	logger *slog.Logger
}

// NewLoggingFailureHandler creates a handler logging through logger.
func NewLoggingFailureHandler(logger *slog.Logger) *LoggingFailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingFailureHandler{logger: logger}
}

func (h *LoggingFailureHandler) Handle(f Failure) {
	attrs := []any{
		slog.String("operation", string(f.Operation)),
		slog.String("error", f.Message),
	}
	if f.Entity != nil {
		attrs = append(attrs, slog.String("entity", f.Entity.String()))
	}
	if f.Group != "" {
		attrs = append(attrs, slog.String("group", f.Group))
	}
	h.logger.Error("mass indexing failure", attrs...)
}

func (h *LoggingFailureHandler) Summarize(s Summary) {
	if s.Empty() {
		return
	}
	h.logger.Error("mass indexing finished with failures",
		slog.Int64("failures", s.Total),
		slog.String("first", s.First.String()))
}

// FailSafeFailureHandler shields the pipeline from a handler that panics.
type FailSafeFailureHandler struct {
	delegate FailureHandler
	logger   *slog.Logger
}

// NewFailSafeFailureHandler wraps delegate.
func NewFailSafeFailureHandler(delegate FailureHandler, logger *slog.Logger) *FailSafeFailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailSafeFailureHandler{delegate: delegate, logger: logger}
}

func (h *FailSafeFailureHandler) Handle(f Failure) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("failure handler panicked",
				slog.Any("panic", r),
				slog.String("failure", f.String()))
		}
	}()
	h.delegate.Handle(f)
}

func (h *FailSafeFailureHandler) Summarize(s Summary) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("failure handler panicked while summarizing", slog.Any("panic", r))
		}
	}()
	h.delegate.Summarize(s)
}
