package progress

import (
	"strconv"
	"strings"
	"time"
)

// Tip is a chain tip reported by the daemon in an UpdateTip log line.
type Tip struct {
	Hash      string
	Height    int64
	Progress  float64   // verification progress, 0..1
	BlockTime time.Time // zero when the line carried no parsable date
}

// ParseUpdateTip extracts a Tip from a bitcoind debug.log line such as
//
//	2024-05-01T10:00:00Z UpdateTip: new best=0000...a054 height=800000 version=0x20000000 log2_work=94.4 tx=868965226 date='2023-07-24T03:17:02Z' progress=0.998134 cache=2.1MiB(15667txo)
//
// It reports false for lines that are not tip updates or lack a height.
func ParseUpdateTip(line string) (Tip, bool) {
	idx := strings.Index(line, "UpdateTip:")
	if idx < 0 {
		return Tip{}, false
	}

	var tip Tip
	haveHeight := false
	for _, field := range strings.Fields(line[idx+len("UpdateTip:"):]) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "best":
			tip.Hash = value
		case "height":
			h, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Tip{}, false
			}
			tip.Height = h
			haveHeight = true
		case "progress":
			if p, err := strconv.ParseFloat(value, 64); err == nil {
				tip.Progress = p
			}
		case "date":
			if t, err := time.Parse(time.RFC3339, strings.Trim(value, "'")); err == nil {
				tip.BlockTime = t
			}
		}
	}
	return tip, haveHeight
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 2, 64) + "%"
}
