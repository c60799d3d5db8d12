package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Participant wise Open Interest as on 21-Aug-2026
Client Type,Future Index,Long Qty Contracts,Short Qty Contracts
Client,NIFTY,120000,40000
Client,STOCKS,5000,1000
DII,NIFTY,30000,60000
Pro,NIFTY,999,0
TOTAL,NIFTY,150999,100000
`

func TestParseParticipantCSV(t *testing.T) {
	fii, dii, err := parseParticipantCSV(sampleCSV)
	require.NoError(t, err)

	// Client rows proxy FII: 120000 − 40000. Stock futures are ignored.
	assert.InDelta(t, 80000, fii, 1e-9)
	assert.InDelta(t, -30000, dii, 1e-9)
}

func TestParseHandlesQuotedThousandsSeparators(t *testing.T) {
	body := `Client Type,Future Index,Long Qty Contracts,Short Qty Contracts
Client,NIFTY,"1,20,000","40,000"
`
	fii, _, err := parseParticipantCSV(body)
	require.NoError(t, err)
	assert.InDelta(t, 80000, fii, 1e-9)
}

func TestParseWithoutTitleLine(t *testing.T) {
	body := `Client Type,Future Index,Long Qty Contracts,Short Qty Contracts
DII,NIFTY,10,4
`
	_, dii, err := parseParticipantCSV(body)
	require.NoError(t, err)
	assert.InDelta(t, 6, dii, 1e-9)
}

func TestParseRejectsMalformedBodies(t *testing.T) {
	_, _, err := parseParticipantCSV("")
	assert.Error(t, err)

	_, _, err = parseParticipantCSV("just a single line\n")
	assert.Error(t, err)

	// A header without the contract columns is unusable.
	_, _, err = parseParticipantCSV("Client Type,Something\nClient,1\n")
	assert.Error(t, err)
}

func TestParseSkipsShortRows(t *testing.T) {
	body := `Client Type,Future Index,Long Qty Contracts,Short Qty Contracts
Client
Client,NIFTY,100,25
`
	fii, _, err := parseParticipantCSV(body)
	require.NoError(t, err)
	assert.InDelta(t, 75, fii, 1e-9)
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		fiiNet float64
		want   string
	}{
		{60000, "FII Strong Long"},
		{-60000, "FII Strong Short"},
		{50000, "FII Moderate Position"},
		{-50000, "FII Moderate Position"},
		{30000, "FII Moderate Position"},
		{-30000, "FII Moderate Position"},
		{20000, "FII Neutral"},
		{0, "FII Neutral"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.fiiNet), "fiiNet=%v", tt.fiiNet)
	}
}

func TestCandidateDatesSkipWeekends(t *testing.T) {
	// 2026-08-24 is a Monday.
	monday := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	dates := candidateDates(monday, 5, 10)
	assert.Equal(t, []string{
		"24082026", // Monday
		"21082026", // Friday
		"20082026",
		"19082026",
		"18082026",
	}, dates)
}

func TestCandidateDatesBoundedByAttempts(t *testing.T) {
	monday := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// Three attempts from a Monday only reach Mon, Sun, Sat.
	dates := candidateDates(monday, 5, 3)
	assert.Equal(t, []string{"24082026"}, dates)
}

func TestParseNum(t *testing.T) {
	assert.Equal(t, 120000.0, parseNum("1,20,000"))
	assert.Equal(t, 42.0, parseNum(" 42 "))
	assert.Zero(t, parseNum("n/a"))
}
