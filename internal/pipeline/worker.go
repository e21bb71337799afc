package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrel-search/petrel/internal/embed"
	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/metrics"
	"github.com/petrel-search/petrel/internal/parse"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
)

// Stage names used in logs, metrics, and status records.
const (
	stageParse       = "parse"
	stageEmbedVisual = "embed_visual"
	stageEmbedText   = "embed_text"
	stageStore       = "store"
)

// Progress checkpoints. Parsing owns the first tenth, visual embedding
// the next half, text embedding up to 0.90, and storage sits at 0.95
// until completion reports 1.0.
const (
	progressParsed     = 0.10
	progressVisualSpan = 0.50
	progressTextBase   = 0.60
	progressTextSpan   = 0.30
	progressStoring    = 0.95
)

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.process(t)
	}
}

// process runs one document through every stage. A panic downgrades to
// a failed status so one bad document cannot take the worker down.
func (p *Pipeline) process(t *task) {
	start := time.Now()
	logger := p.logger.With(
		slog.String("doc_id", t.docID),
		slog.String("filename", t.filename))

	defer metrics.QueueDepth.Dec()
	defer p.release(t)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", slog.Any("panic", r))
			p.removeRecords(t.docID)
			p.markFailed(t.docID, fmt.Sprintf("internal: %v", r))
			metrics.IngestTotal.WithLabelValues("failed").Inc()
		}
	}()

	if t.ctx.Err() != nil {
		p.finishCancelled(t, logger)
		return
	}

	// Stage 1: parse into pages and chunks.
	p.setState(t.docID, status.StateParsing, 0, status.WithStage(stageParse))
	var doc *parse.Document
	err := p.runStage(t.ctx, stageParse, p.cfg.ParseTimeout, func(ctx context.Context) error {
		d, perr := p.deps.Parser.Parse(ctx, t.filename, t.data)
		if perr != nil {
			return perr
		}
		doc = d
		return nil
	})
	if err != nil {
		// Nothing stored yet; a previously ingested version of the same
		// content, if any, stays searchable.
		p.finish(t, logger, stageParse, err, false)
		return
	}
	t.data = nil
	p.setState(t.docID, status.StateParsing, progressParsed, status.WithStage(stageParse))
	logger.Info("document parsed",
		slog.Int("pages", len(doc.Pages)),
		slog.Int("chunks", len(doc.Chunks)),
		slog.String("format", doc.Meta.Format))

	// Stage 2: embed page images. Skipped entirely for page-less formats.
	images := doc.PageImages()
	var visual []embed.Tensor
	if len(images) > 0 {
		p.setState(t.docID, status.StateEmbeddingVisual, progressParsed,
			status.WithStage(stageEmbedVisual), status.WithPages(0, len(images)))
		err = p.runStage(t.ctx, stageEmbedVisual, p.cfg.EmbedTimeout, func(ctx context.Context) error {
			visual = visual[:0]
			for lo := 0; lo < len(images); lo += p.cfg.BatchSizeVisual {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				hi := min(lo+p.cfg.BatchSizeVisual, len(images))
				batch, berr := p.deps.Embedder.EmbedImages(ctx, images[lo:hi], p.cfg.BatchSizeVisual)
				if berr != nil {
					return berr
				}
				visual = append(visual, batch...)
				frac := float64(hi) / float64(len(images))
				p.setState(t.docID, status.StateEmbeddingVisual, progressParsed+progressVisualSpan*frac,
					status.WithStage(stageEmbedVisual), status.WithPages(hi, len(images)))
			}
			return nil
		})
		if err != nil {
			p.finish(t, logger, stageEmbedVisual, err, true)
			return
		}
	}

	// Stage 3: embed text chunks. The state is entered even with zero
	// chunks so the record walks the machine in order.
	texts := doc.ChunkTexts()
	entry := progressTextBase
	if len(texts) == 0 {
		entry = progressTextBase + progressTextSpan
	}
	p.setState(t.docID, status.StateEmbeddingText, entry,
		status.WithStage(stageEmbedText), status.WithChunks(0, len(texts)))
	var textual []embed.Tensor
	if len(texts) > 0 {
		err = p.runStage(t.ctx, stageEmbedText, p.cfg.EmbedTimeout, func(ctx context.Context) error {
			textual = textual[:0]
			for lo := 0; lo < len(texts); lo += p.cfg.BatchSizeText {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				hi := min(lo+p.cfg.BatchSizeText, len(texts))
				batch, berr := p.deps.Embedder.EmbedText(ctx, texts[lo:hi], p.cfg.BatchSizeText)
				if berr != nil {
					return berr
				}
				textual = append(textual, batch...)
				frac := float64(hi) / float64(len(texts))
				p.setState(t.docID, status.StateEmbeddingText, progressTextBase+progressTextSpan*frac,
					status.WithStage(stageEmbedText), status.WithChunks(hi, len(texts)))
			}
			return nil
		})
		if err != nil {
			p.finish(t, logger, stageEmbedText, err, true)
			return
		}
	}

	// Stage 4: persist both collections.
	if t.ctx.Err() != nil {
		p.finishCancelled(t, logger)
		return
	}
	p.setState(t.docID, status.StateStoring, progressStoring, status.WithStage(stageStore))
	pages := pageMetas(doc, t.filename)
	chunks := chunkMetas(doc, t.filename)
	err = p.runStage(t.ctx, stageStore, p.cfg.StoreTimeout, func(ctx context.Context) error {
		if serr := p.deps.Store.UpsertVisual(ctx, t.docID, visual, pages); serr != nil {
			return serr
		}
		return p.deps.Store.UpsertText(ctx, t.docID, textual, chunks)
	})
	if err != nil {
		p.finish(t, logger, stageStore, err, true)
		return
	}

	if _, uerr := p.deps.Status.MarkCompleted(t.docID,
		status.WithPages(len(images), len(images)),
		status.WithChunks(len(texts), len(texts))); uerr != nil {
		logger.Warn("completion status update rejected", slog.String("error", uerr.Error()))
	}
	metrics.IngestTotal.WithLabelValues("completed").Inc()
	logger.Info("ingest complete",
		slog.Int("pages", len(images)),
		slog.Int("chunks", len(texts)),
		slog.Duration("elapsed", time.Since(start)))
}

// runStage executes one stage under the retry budget. Each attempt gets
// its own deadline derived from the task context, so a hung attempt is
// cut off and retried while cancellation still wins.
func (p *Pipeline) runStage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return perrors.Retry(ctx, p.cfg.Retry, func() error {
		attempt, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(attempt)
		if err != nil && attempt.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return perrors.Timeout(name, err)
		}
		return err
	})
}

// finish records a stage failure. removeRecords clears any rows already
// written for the document; parse failures skip it so an earlier ingest
// of the same content survives.
func (p *Pipeline) finish(t *task, logger *slog.Logger, stage string, err error, removeRecords bool) {
	if t.cancelled.Load() || errors.Is(err, context.Canceled) {
		p.finishCancelled(t, logger)
		return
	}
	if removeRecords {
		p.removeRecords(t.docID)
	}
	logger.Error("ingest failed",
		slog.String("stage", stage),
		slog.String("code", perrors.GetCode(err)),
		slog.String("error", err.Error()))
	p.markFailed(t.docID, err.Error())
	metrics.IngestTotal.WithLabelValues("failed").Inc()
}

// finishCancelled removes whatever the document stored and marks it
// failed. A cancelled ingest leaves no rows in either collection.
func (p *Pipeline) finishCancelled(t *task, logger *slog.Logger) {
	p.removeRecords(t.docID)
	p.markFailed(t.docID, "cancelled")
	metrics.IngestTotal.WithLabelValues("cancelled").Inc()
	logger.Info("ingest cancelled")
}

// removeRecords deletes both collections' rows for the document. Runs on
// a fresh context so cleanup survives the task's own cancellation.
func (p *Pipeline) removeRecords(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.deps.Store.Delete(ctx, docID); err != nil {
		p.logger.Warn("cleanup delete failed",
			slog.String("doc_id", docID),
			slog.String("error", err.Error()))
	}
}

// setState forwards a status update, logging rather than failing on
// rejection. A rejected update means the record was externally replaced;
// the document's own processing is unaffected.
func (p *Pipeline) setState(docID string, st status.State, progress float64, opts ...status.UpdateOption) {
	if _, err := p.deps.Status.Update(docID, st, progress, opts...); err != nil {
		p.logger.Warn("status update rejected",
			slog.String("doc_id", docID),
			slog.String("state", string(st)),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) markFailed(docID, msg string) {
	if _, err := p.deps.Status.MarkFailed(docID, msg); err != nil {
		p.logger.Warn("failure status update rejected",
			slog.String("doc_id", docID),
			slog.String("error", err.Error()))
	}
}

// release clears the in-flight entry and the task context.
func (p *Pipeline) release(t *task) {
	p.mu.Lock()
	delete(p.inflight, t.docID)
	p.mu.Unlock()
	t.cancelFn()
}

func pageMetas(doc *parse.Document, filename string) []store.PageMeta {
	out := make([]store.PageMeta, len(doc.Pages))
	for i, pg := range doc.Pages {
		out[i] = store.PageMeta{
			PageNumber:  pg.Number,
			Filename:    filename,
			ContentType: "page",
		}
	}
	return out
}

func chunkMetas(doc *parse.Document, filename string) []store.ChunkMeta {
	out := make([]store.ChunkMeta, len(doc.Chunks))
	for i, ch := range doc.Chunks {
		out[i] = store.ChunkMeta{
			ChunkIndex:  ch.Index,
			PageNumber:  ch.PageNumber,
			Filename:    filename,
			ContentType: string(ch.Tag),
		}
	}
	return out
}
