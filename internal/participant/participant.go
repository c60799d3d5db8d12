// Package participant fetches FII/DII index-futures positioning from the NSE
// participant-wise open interest archives. The data is informational: a feed
// failure never blocks trading, it just marks the metrics unavailable.
package participant

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const archiveURL = "https://archives.nseindia.com/content/nsccl/fao_participant_oi_%s.csv"

// Positioning thresholds on FII net index-futures contracts.
const (
	StrongLong  = 50000
	StrongShort = -50000
	Moderate    = 20000
)

// Flows is one day of net index-futures positioning.
type Flows struct {
	Date      string  `json:"date"`
	FIINet    float64 `json:"fii_net_contracts"`
	DIINet    float64 `json:"dii_net_contracts"`
	Context   string  `json:"context"`
	Available bool    `json:"available"`
}

// Fetcher pulls the archive CSVs.
type Fetcher struct {
	client *resty.Client
	logger *logrus.Logger
}

func NewFetcher(logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("User-Agent", "Mozilla/5.0").
			SetHeader("Accept", "text/csv"),
		logger: logger,
	}
}

// Fetch walks back over the last few weekdays until an archive file exists,
// since the latest file lags by a day and skips holidays. When every
// candidate fails the result has Available=false and zero flows.
func (f *Fetcher) Fetch(ctx context.Context) Flows {
	for _, date := range candidateDates(time.Now(), 5, 10) {
		resp, err := f.client.R().
			SetContext(ctx).
			Get(fmt.Sprintf(archiveURL, date))
		if err != nil || resp.StatusCode() != 200 {
			continue
		}
		fiiNet, diiNet, err := parseParticipantCSV(resp.String())
		if err != nil {
			f.logger.WithError(err).WithField("date", date).Debug("participant csv parse failed")
			continue
		}
		f.logger.WithFields(logrus.Fields{
			"date":    date,
			"fii_net": fiiNet,
			"dii_net": diiNet,
		}).Info("participant flows fetched")
		return Flows{
			Date:      date,
			FIINet:    fiiNet,
			DIINet:    diiNet,
			Context:   classify(fiiNet),
			Available: true,
		}
	}
	f.logger.Warn("participant flows unavailable")
	return Flows{Context: "Data Unavailable"}
}

// candidateDates lists up to n recent weekdays as DDMMYYYY, newest first.
func candidateDates(now time.Time, n, maxAttempts int) []string {
	var dates []string
	current := now
	for attempts := 0; len(dates) < n && attempts < maxAttempts; attempts++ {
		if wd := current.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, current.Format("02012006"))
		}
		current = current.AddDate(0, 0, -1)
	}
	return dates
}

// parseParticipantCSV sums long minus short index-futures contracts for the
// Client (FII proxy) and DII participant rows of NIFTY instruments.
func parseParticipantCSV(body string) (fiiNet, diiNet float64, err error) {
	r := csv.NewReader(strings.NewReader(body))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return 0, 0, fmt.Errorf("read participant csv: %w", err)
	}
	if len(records) < 2 {
		return 0, 0, fmt.Errorf("participant csv has no data rows")
	}

	// The archive sometimes carries a title line before the header.
	headerIdx := -1
	var cols map[string]int
	for i, rec := range records {
		c := indexColumns(rec)
		if _, ok := c["clienttype"]; ok {
			headerIdx = i
			cols = c
			break
		}
	}
	if headerIdx < 0 {
		return 0, 0, fmt.Errorf("participant csv header not found")
	}

	clientCol := cols["clienttype"]
	futCol, okFut := cols["futureindex"]
	longCol, okLong := cols["longqtycontracts"]
	shortCol, okShort := cols["shortqtycontracts"]
	if !okFut || !okLong || !okShort {
		return 0, 0, fmt.Errorf("participant csv missing expected columns")
	}

	for _, rec := range records[headerIdx+1:] {
		max := clientCol
		for _, c := range []int{futCol, longCol, shortCol} {
			if c > max {
				max = c
			}
		}
		if len(rec) <= max {
			continue
		}
		if !strings.Contains(strings.ToUpper(rec[futCol]), "NIFTY") {
			continue
		}
		long := parseNum(rec[longCol])
		short := parseNum(rec[shortCol])
		switch strings.TrimSpace(rec[clientCol]) {
		case "Client":
			fiiNet += long - short
		case "DII":
			diiNet += long - short
		}
	}
	return fiiNet, diiNet, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", ""))
		cols[key] = i
	}
	return cols
}

func parseNum(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func classify(fiiNet float64) string {
	switch {
	case fiiNet > StrongLong:
		return "FII Strong Long"
	case fiiNet < StrongShort:
		return "FII Strong Short"
	case fiiNet > Moderate || fiiNet < -Moderate:
		return "FII Moderate Position"
	default:
		return "FII Neutral"
	}
}
