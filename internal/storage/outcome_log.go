package storage

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"trader/internal/model"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const _outcomeFileLayout = "2006-01-02"

// DailyOutcomeLog appends trade outcomes as JSON lines to one file per UTC
// day: <dir>/trades-YYYY-MM-DD.jsonl. Records are never rewritten.
type DailyOutcomeLog struct {
	dir string
	mu  sync.Mutex
}

func NewDailyOutcomeLog(dir string) *DailyOutcomeLog {
	return &DailyOutcomeLog{dir: dir}
}

// Path returns the file that holds outcomes exited on day.
func (l *DailyOutcomeLog) Path(day time.Time) string {
	return filepath.Join(l.dir, "trades-"+day.UTC().Format(_outcomeFileLayout)+".jsonl")
}

func (l *DailyOutcomeLog) Record(_ context.Context, outcome model.TradeOutcome) error {
	line, err := sonic.Marshal(outcome)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	day := outcome.ExitTime
	if day.IsZero() {
		day = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.Path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open outcome log")
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "append outcome")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadDay returns every readable outcome of day. Each unreadable line is
// reported separately and skipped.
func (l *DailyOutcomeLog) ReadDay(day time.Time) ([]model.TradeOutcome, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.Path(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()

	var (
		outcomes []model.TradeOutcome
		errs     []error
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var o model.TradeOutcome
		if err := sonic.Unmarshal(line, &o); err != nil {
			errs = append(errs, errors.Wrap(exception.ErrDataIntegrity, l.Path(day)+":"+strconv.Itoa(lineNo)+": "+err.Error()))
			continue
		}
		outcomes = append(outcomes, o)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return outcomes, errs
}
