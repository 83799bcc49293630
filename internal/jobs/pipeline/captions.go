package pipeline

import (
	"strconv"
	"strings"

	"github.com/artemmail/scriptor-sub002/internal/docgen"
)

// Caption fragments store one caption line per row as
// "startSec<TAB>endSec<TAB>text" so reassembly preserves the original cue
// timing rather than the segment window bounds.

func renderCaptionTrack(fragments []fragment, format docgen.Format) (string, error) {
	var cues []docgen.Fragment
	for _, frag := range fragments {
		for _, line := range strings.Split(frag.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "\t", 3)
			if len(parts) != 3 {
				continue
			}
			start, err1 := strconv.ParseFloat(parts[0], 64)
			end, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			cues = append(cues, docgen.Fragment{
				Index:    len(cues),
				StartSec: start,
				EndSec:   end,
				Text:     parts[2],
			})
		}
	}
	return docgen.Render(cues, format)
}
