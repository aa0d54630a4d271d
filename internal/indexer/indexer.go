package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/felo/mail-indexer/internal/content"
	"github.com/felo/mail-indexer/internal/db"
	"github.com/felo/mail-indexer/internal/entity"
	"github.com/felo/mail-indexer/internal/metrics"
	"github.com/felo/mail-indexer/internal/parser"
	"github.com/felo/mail-indexer/internal/scoring"
	"github.com/felo/mail-indexer/internal/source"
)

// ErrRejected is reported for messages without a Message-ID.
var ErrRejected = errors.New("message has no Message-ID")

// Settings written after each run.
const (
	SettingLocatorVersion = "locator_version"
	SettingLastRunID      = "last_run_id"
)

// Source yields raw records in a stable order. *source.Store implements it.
type Source interface {
	Next(ctx context.Context) (*source.Record, error)
}

// Indexer admits messages from a store into the database
type Indexer struct {
	db         *db.DB
	normalizer *content.Normalizer
	tokenizer  *scoring.Tokenizer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	workers    int
	readAhead  int
}

// NewIndexer creates a new indexer
func NewIndexer(database *db.DB, normalizer *content.Normalizer, tokenizer *scoring.Tokenizer, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := runtime.NumCPU()
	return &Indexer{
		db:         database,
		normalizer: normalizer,
		tokenizer:  tokenizer,
		logger:     logger,
		workers:    workers,
		readAhead:  2 * workers,
	}
}

// WithConcurrency sets the number of concurrent workers
func (idx *Indexer) WithConcurrency(workers int) *Indexer {
	if workers < 1 {
		workers = 1
	}
	idx.workers = workers
	return idx
}

// WithReadAhead sets how many records may wait between the reader and the workers
func (idx *Indexer) WithReadAhead(records int) *Indexer {
	if records < 1 {
		records = 1
	}
	idx.readAhead = records
	return idx
}

// WithMetrics sets the metrics collector
func (idx *Indexer) WithMetrics(m *metrics.Metrics) *Indexer {
	idx.metrics = m
	return idx
}

type job struct {
	seq int
	rec *source.Record
}

type prepared struct {
	seq       int
	rec       *source.Record
	admission *db.Admission
	err       error
}

// Run reads every record of src and admits new messages in source order.
// Parsing runs on the worker pool; admissions are serial. Per-record
// failures are reported in the returned Report; only a source or storage
// failure aborts the run. On cancellation the partial report is returned
// with ctx.Err().
func (idx *Indexer) Run(ctx context.Context, src Source) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := idx.logger.With(zap.String("run_id", report.RunID))
	log.Info("Starting indexing run",
		zap.Int("workers", idx.workers),
		zap.Int("read_ahead", idx.readAhead),
	)

	g, gctx := errgroup.WithContext(ctx)

	// window bounds the records between the reader and the admitter, so
	// the reorder buffer never grows past readAhead+workers entries.
	window := make(chan struct{}, idx.readAhead+idx.workers)
	jobs := make(chan job, idx.readAhead)
	results := make(chan *prepared, idx.readAhead+idx.workers)

	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			rec, err := src.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to read source: %w", err)
			}
			idx.metrics.RecordRead(len(rec.Raw))
			select {
			case jobs <- job{seq: seq, rec: rec}:
			case <-gctx.Done():
				return nil
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < idx.workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				p := idx.prepare(j)
				select {
				case results <- p:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		pending := make(map[int]*prepared)
		next := 0
		for p := range results {
			pending[p.seq] = p
			for {
				q, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				<-window

				if ctx.Err() != nil {
					return nil
				}
				if err := idx.admit(context.WithoutCancel(ctx), log, report, q); err != nil {
					return err
				}
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		log.Error("Indexing run aborted", zap.Error(err), zap.Int("processed", len(report.Outcomes)))
		return report, err
	}

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	idx.recordRun(context.WithoutCancel(ctx), log, report)

	log.Info("Indexing run complete",
		zap.Int("admitted", report.Admitted),
		zap.Int("skipped", report.Skipped),
		zap.Int("rejected", report.Rejected),
		zap.Int("unreadable", report.Unreadable),
		zap.Int("degraded_parts", report.Degraded),
		zap.Bool("cancelled", report.Cancelled),
	)
	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// prepare does everything that needs no storage: parsing, content
// normalization, address extraction and tokenization.
func (idx *Indexer) prepare(j job) *prepared {
	p := &prepared{seq: j.seq, rec: j.rec}
	if j.rec.Err != nil {
		p.err = j.rec.Err
		return p
	}

	start := time.Now()
	defer func() { idx.metrics.ObservePrepare(time.Since(start)) }()

	msg, err := parser.Parse(j.rec.Raw)
	if err != nil {
		p.err = err
		return p
	}
	idx.normalizer.Normalize(msg)

	p.admission = &db.Admission{
		Message: db.NewMessage(msg, j.rec.Vendor, j.rec.Folder, j.rec.Location),
		Parts:   parser.Flatten(msg.Root),
		Entries: entity.Extract(msg.Header),
		Words:   idx.tokenizer.Frequencies(scoring.PlainText(msg.Root)),
	}
	return p
}

// admit decides the outcome of one prepared record and stores it when new.
// It returns an error only for storage failures.
func (idx *Indexer) admit(ctx context.Context, log *zap.Logger, report *Report, p *prepared) error {
	out := Outcome{Index: p.rec.Index, Location: p.rec.Location}

	switch {
	case p.err != nil:
		out.Status, out.Err = StatusUnreadable, p.err
	case p.admission.Message.MessageID == "":
		out.Status, out.Err = StatusRejected, ErrRejected
	default:
		out.MessageID = p.admission.Message.MessageID
		exists, err := idx.db.MessageExists(ctx, out.MessageID)
		if err != nil {
			return fmt.Errorf("failed to check message %s: %w", out.MessageID, err)
		}
		if exists {
			out.Status = StatusSkipped
			break
		}

		start := time.Now()
		_, err = idx.db.AdmitMessage(ctx, p.admission)
		idx.metrics.ObserveAdmit(time.Since(start))
		switch {
		case errors.Is(err, db.ErrConcurrentDuplicate):
			out.Status = StatusSkipped
			report.ConcurrentDuplicates++
		case err != nil:
			return fmt.Errorf("failed to admit message %s: %w", out.MessageID, err)
		default:
			out.Status = StatusAdmitted
			out.Degraded = degradedParts(p.admission.Parts)
		}
	}

	report.add(out)
	idx.metrics.RecordOutcome(string(out.Status), len(out.Degraded))

	fields := []zap.Field{
		zap.Int("index", out.Index),
		zap.String("location", out.Location),
		zap.String("message_id", out.MessageID),
	}
	switch out.Status {
	case StatusUnreadable, StatusRejected:
		log.Warn("Record not admitted", append(fields, zap.String("status", string(out.Status)), zap.Error(out.Err))...)
	case StatusAdmitted:
		if len(out.Degraded) > 0 {
			log.Warn("Admitted with degraded parts", append(fields, zap.Int("degraded_parts", len(out.Degraded)))...)
		} else {
			log.Debug("Admitted", fields...)
		}
	default:
		log.Debug("Skipped", fields...)
	}
	return nil
}

func degradedParts(parts []*parser.Part) []DegradedPart {
	var out []DegradedPart
	for _, p := range parts {
		for _, reason := range p.Degraded {
			out = append(out, DegradedPart{Order: p.Order, Reason: reason})
		}
	}
	return out
}

func (idx *Indexer) recordRun(ctx context.Context, log *zap.Logger, report *Report) {
	settings := map[string]string{
		SettingLocatorVersion: strconv.Itoa(content.LocatorVersion),
		SettingLastRunID:      report.RunID,
	}
	for key, value := range settings {
		if err := idx.db.SetSetting(ctx, key, value); err != nil {
			log.Warn("Failed to record run setting", zap.String("key", key), zap.Error(err))
		}
	}
}

// Reindex regenerates the word index of a stored message from its stored
// text parts.
func (idx *Indexer) Reindex(ctx context.Context, messageID string) error {
	m, err := idx.db.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	root, err := idx.db.LoadPartTree(ctx, m.ID)
	if err != nil {
		return err
	}
	words := idx.tokenizer.Frequencies(scoring.PlainText(root))
	if err := idx.db.ReplaceWordIndex(ctx, m.ID, words); err != nil {
		return err
	}
	idx.logger.Debug("Reindexed message", zap.String("message_id", messageID), zap.Int("words", len(words)))
	return nil
}
