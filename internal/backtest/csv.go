package backtest

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"trader/internal/model"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var _csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// LoadCandlesCSV reads "time,open,high,low,close,volume" rows, keeping those
// in [from, to]. Zero bounds are open. time is RFC 3339, unix seconds or
// unix milliseconds. Malformed rows are skipped and reported one error each.
func LoadCandlesCSV(path string, from, to time.Time) ([]model.Candle, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()
	return ReadCandlesCSV(f, from, to)
}

// ReadCandlesCSV is LoadCandlesCSV over a reader.
func ReadCandlesCSV(r io.Reader, from, to time.Time) ([]model.Candle, []error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		candles []model.Candle
		errs    []error
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, errors.Wrap(exception.ErrMalformedCandle, "line "+strconv.Itoa(line)+": "+err.Error()))
			continue
		}
		if line == 1 && isHeader(record) {
			continue
		}

		c, err := parseCandle(record)
		if err != nil {
			errs = append(errs, errors.Wrap(exception.ErrMalformedCandle, "line "+strconv.Itoa(line)+": "+err.Error()))
			continue
		}
		if !from.IsZero() && c.Time.Before(from) || !to.IsZero() && c.Time.After(to) {
			continue
		}
		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, errs
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), _csvHeader[0])
}

func parseCandle(record []string) (model.Candle, error) {
	if len(record) < len(_csvHeader) {
		return model.Candle{}, errors.New("expected " + strconv.Itoa(len(_csvHeader)) + " fields, got " + strconv.Itoa(len(record)))
	}
	at, err := parseTime(strings.TrimSpace(record[0]))
	if err != nil {
		return model.Candle{}, err
	}

	values := make([]decimal.Decimal, 5)
	for i := range values {
		v, err := decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return model.Candle{}, errors.Wrap(err, _csvHeader[i+1])
		}
		values[i] = v
	}
	return model.Candle{
		Time:   at,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
