// Package attachments copies font attachments from the designated source
// into the job temp tree.
package attachments

import (
	"context"
	"fmt"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/probe"
)

// fontMIMEPrefixes are the three MIME prefixes interpreted as fonts;
// anything else is ignored.
var fontMIMEPrefixes = []string{
	"font/",
	"application/font-",
	"application/x-font",
}

// IsFontMIME reports whether a content type names a font attachment.
func IsFontMIME(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, p := range fontMIMEPrefixes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

// Run extracts every font attachment of the job's attachment source. A
// source with no font attachments produces zero attachment flags, not a
// failure.
func Run(ctx context.Context, job *core.Job) error {
	log := job.Handler.ZeroLog()
	source := job.Spec.AttachmentSource
	if source == "" {
		source = highestSource(job)
	}
	path, ok := job.Spec.SourceFiles[source]
	if !ok {
		job.Handler.UpdateProgress("Attachments", 1, 1, "no attachment source")
		return nil
	}

	pr, err := probe.Run(ctx, job.Tools.Probe, path)
	if err != nil {
		return core.NewStageError("Attachments", core.AbortTask, err, nil)
	}

	var specs []string
	var outPaths []string
	for _, att := range pr.Attachments {
		if !IsFontMIME(att.ContentType) {
			continue
		}
		out := core.AttachmentPath(job.TempDir, source, att.ID, att.FileName)
		specs = append(specs, fmt.Sprintf("%d:%s", att.ID, out))
		outPaths = append(outPaths, out)
	}
	if len(specs) == 0 {
		log.Debug().Str("source", source).Msg("no font attachments")
		job.Handler.UpdateProgress("Attachments", 1, 1, "no font attachments")
		return nil
	}

	args := append([]string{path, "attachments"}, specs...)
	if err := execwrap.Run(ctx, job.Tools.Extractor, args); err != nil {
		return core.NewStageError("Attachments", core.AbortTask,
			fmt.Errorf("extracting attachments from %s: %w", source, err), nil)
	}

	job.Attachments = outPaths
	job.Handler.UpdateProgress("Attachments", 1, 1, fmt.Sprintf("%d fonts extracted", len(outPaths)))
	return nil
}

// highestSource picks the highest-numbered source by key suffix.
func highestSource(job *core.Job) string {
	best, bestN := "", -1
	for k := range job.Spec.SourceFiles {
		var n int
		if _, err := fmt.Sscanf(k, "Source %d", &n); err == nil && n > bestN {
			best, bestN = k, n
		}
	}
	return best
}
