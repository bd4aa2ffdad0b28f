package eod

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/tradelog"
)

type aggRow struct {
	Symbol       string
	Opens        int
	Closes       int
	OpenVolume   float64
	ClosedVolume float64
	Wins         int
	Losses       int
	RealizedPnL  float64
}

// Summarizer turns a day of journal entries into a per-symbol CSV.
type Summarizer struct {
	journal     *tradelog.Journal
	closeHour   int
	closeMinute int
}

var _ interfaces.EodSummarizer = (*Summarizer)(nil)

func NewSummarizer(j *tradelog.Journal, closeHour, closeMinute int) *Summarizer {
	return &Summarizer{journal: j, closeHour: closeHour, closeMinute: closeMinute}
}

func (s *Summarizer) csvPath(t time.Time) string {
	d := t.In(s.journal.Location()).Format("2006-01-02")
	return filepath.Join(s.journal.Dir(), "eod", d+".csv")
}

// SummarizeDay writes the summary for day and returns its path. A day
// without trades yields "" and no error.
func (s *Summarizer) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	f, err := os.Open(s.journal.DailyPath(day))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		switch e.Kind {
		case tradelog.KindOpen:
			row.Opens++
			row.OpenVolume += e.Volume
		case tradelog.KindClose:
			row.Closes++
			row.ClosedVolume += e.Volume
			row.RealizedPnL += e.Profit
			if e.Profit > 0 {
				row.Wins++
			} else if e.Profit < 0 {
				row.Losses++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(day)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "opens", "closes", "open_volume", "closed_volume", "wins", "losses", "realized_pnl"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var total aggRow
	for _, k := range keys {
		r := aggs[k]
		rec := []string{
			r.Symbol,
			strconv.Itoa(r.Opens),
			strconv.Itoa(r.Closes),
			fmt.Sprintf("%.2f", r.OpenVolume),
			fmt.Sprintf("%.2f", r.ClosedVolume),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
			fmt.Sprintf("%.2f", r.RealizedPnL),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		total.Opens += r.Opens
		total.Closes += r.Closes
		total.Wins += r.Wins
		total.Losses += r.Losses
		total.RealizedPnL += r.RealizedPnL
	}
	_ = w.Write([]string{"TOTAL", strconv.Itoa(total.Opens), strconv.Itoa(total.Closes), "", "",
		strconv.Itoa(total.Wins), strconv.Itoa(total.Losses), fmt.Sprintf("%.2f", total.RealizedPnL)})
	w.Flush()
	return outPath, w.Error()
}

// ShouldRunNow is true once the configured close time has passed and no
// summary exists yet for today.
func (s *Summarizer) ShouldRunNow(now time.Time) (bool, string) {
	now = now.In(s.journal.Location())
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), s.closeHour, s.closeMinute, 0, 0, now.Location())
	outPath := s.csvPath(now)
	if now.After(cutoff) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
