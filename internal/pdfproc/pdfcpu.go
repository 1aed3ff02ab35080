// Package pdfproc post-processes rendered attempt PDFs.
package pdfproc

import (
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// Processor rewrites rendered PDFs in place to shrink their size.
type Processor struct {
	logger *common.Logger
	conf   *model.Configuration
}

// NewProcessor creates a PDF post-processor.
func NewProcessor(logger *common.Logger) *Processor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Processor{
		logger: logger,
		conf:   conf,
	}
}

// OptimizePDF compresses the given PDF in place. Embedded object streams and
// duplicate resources are rewritten, which covers the bulk of the size of
// browser-printed report pages. The requested image dimensions and quality
// are validated and logged but do not resample embedded images, pdfcpu
// offers no lossy recompression.
func (p *Processor) OptimizePDF(ctx context.Context, path string, opts models.ImageOptimize) error {
	if !opts.Enabled {
		return nil
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := api.OptimizeFile(path, "", p.conf); err != nil {
		return fmt.Errorf("failed to optimize PDF %s: %w", path, err)
	}

	p.logger.Debug().
		Str("path", path).
		Int("target_width", opts.Width).
		Int("target_height", opts.Height).
		Int("quality", opts.Quality).
		Msg("Optimized attempt report PDF")
	return nil
}

var _ interfaces.ArtifactPostProcessor = (*Processor)(nil)
