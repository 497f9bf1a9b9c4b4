// Package diagnostics renders structured failure reports
// and bundles failed jobs' temp trees into compressed post-mortem archives.
package diagnostics

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// ExtractionFailure names exactly which track failed to demux and how a
// user would reproduce the extraction by hand.
type ExtractionFailure struct {
	Source         string
	TrackID        int
	Codec          string
	File           string
	Reason         string
	ManualCommands []string
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for %s track %d (%s): %s", e.Source, e.TrackID, e.Codec, e.Reason)
}

// Log renders the failure as a table plus the manual-repro commands and a
// diagnostic checklist.
func (e *ExtractionFailure) Log(log core.Logger) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Source", "Track", "Codec", "File", "Reason"})
	size := "?"
	if fi, err := os.Stat(e.File); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	table.Append([]string{e.Source, strconv.Itoa(e.TrackID), e.Codec, e.File + " (" + size + ")", e.Reason})
	table.Render()

	log.Error().Str("source", e.Source).Int("track", e.TrackID).
		Msg("track extraction failed\n" + buf.String())
	for _, cmd := range e.ManualCommands {
		log.Error().Msg("  repro: " + cmd)
	}
	log.Error().Msg("checklist: is the file readable? does the probe list the track? " +
		"is the codec extractable by your extractor version? is the disk full?")
}
