package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/certen-io/chain-listener/pkg/model"
)

// StructuredLog writes a JSON or plain-text record at a configured
// severity, to a size-capped, N-rotation file sink plus a console sink.
type StructuredLog struct {
	Base
	Format   string // json|text
	Severity btclog.Level
	logger   btclog.Logger
	rotator  *rotator.Rotator
}

// NewStructuredLog builds a StructuredLog notifier writing to logFile
// (rotated every maxSizeKB kilobytes, keeping maxRolls old files) and to
// stdout.
func NewStructuredLog(id, format, severity, logFile string, maxSizeKB int64, maxRolls int) (*StructuredLog, error) {
	r, err := rotator.New(logFile, maxSizeKB, false, maxRolls)
	if err != nil {
		return nil, fmt.Errorf("open log rotator: %w", err)
	}

	w := io.MultiWriter(os.Stdout, r)
	backend := btclog.NewBackend(w)
	logger := backend.Logger("NOTIFY")
	logger.SetLevel(parseBtcLevel(severity))

	return &StructuredLog{
		Base:     Base{Channel: id, OnEnabled: true, RetryAttempts: 1, RetryDelay: 0},
		Format:   format,
		Severity: parseBtcLevel(severity),
		logger:   logger,
		rotator:  r,
	}, nil
}

func parseBtcLevel(s string) btclog.Level {
	switch s {
	case "debug":
		return btclog.LevelDebug
	case "warn":
		return btclog.LevelWarn
	case "error":
		return btclog.LevelError
	default:
		return btclog.LevelInfo
	}
}

func (s *StructuredLog) Close() error {
	if s.rotator != nil {
		return s.rotator.Close()
	}
	return nil
}

func (s *StructuredLog) Notify(ctx context.Context, pe *model.ProcessedEvent) model.NotificationResult {
	line, err := s.render(pe)
	if err != nil {
		return model.NotificationResult{Channel: s.Channel, Success: false, TimestampMs: time.Now().UnixMilli(), Error: err.Error()}
	}

	switch s.Severity {
	case btclog.LevelDebug:
		s.logger.Debug(line)
	case btclog.LevelWarn:
		s.logger.Warn(line)
	case btclog.LevelError:
		s.logger.Error(line)
	default:
		s.logger.Info(line)
	}

	return model.NotificationResult{Channel: s.Channel, Success: true, TimestampMs: time.Now().UnixMilli()}
}

func (s *StructuredLog) render(pe *model.ProcessedEvent) (string, error) {
	if s.Format == "text" {
		ev := pe.Original
		return fmt.Sprintf("event=%s chain=%s kind=%s tx=%s classification=%s",
			ev.ID, ev.Chain, ev.Kind, ev.TxHash, pe.Metadata.Classification.Category), nil
	}
	body, err := json.Marshal(buildWebhookBody(pe))
	if err != nil {
		return "", fmt.Errorf("marshal structured log record: %w", err)
	}
	return string(body), nil
}
