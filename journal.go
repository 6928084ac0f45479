package simcoord

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/ksparavec/simcoord/internal/clock"
	"github.com/ksparavec/simcoord/internal/correlation"
)

// journal appends one JSON line per mutating coordinator operation. It is
// diagnostic only and never the source of truth: write failures are logged
// and swallowed so a full disk cannot take down coordination.
type journal struct {
	path   string
	clock  clock.Clock
	logger pslog.Logger

	mu   sync.Mutex
	file *os.File
}

type journalEntry struct {
	Time          time.Time      `json:"time"`
	Op            string         `json:"op"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	PID           int            `json:"pid"`
	Fields        map[string]any `json:"fields,omitempty"`
}

func newJournal(path string, clk clock.Clock, logger pslog.Logger) *journal {
	return &journal{
		path:   path,
		clock:  clock.Ensure(clk),
		logger: logger.With("component", "journal"),
	}
}

func (j *journal) record(ctx context.Context, op string, fields map[string]any) {
	if j == nil {
		return
	}
	entry := journalEntry{
		Time:          j.clock.Now(),
		Op:            op,
		CorrelationID: correlation.ID(ctx),
		PID:           os.Getpid(),
		Fields:        fields,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		j.logger.Warn("journal.encode_failed", "op", op, "error", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			j.logger.Warn("journal.open_failed", "path", j.path, "error", err)
			return
		}
		j.file = f
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		j.logger.Warn("journal.write_failed", "op", op, "error", err)
	}
}

func (j *journal) close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
