package writer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/cryptodash/internal/model"
)

const insertKline = `
	INSERT INTO ohlcv (exchange, symbol, timeframe, open_time, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (exchange, symbol, timeframe, open_time) DO NOTHING
`

// KlineWriter consumes closed candles from the hub and writes them to the
// ohlcv table.
type KlineWriter struct {
	cfg    Config
	logger *slog.Logger

	// Input from the hub tap
	input   chan model.KlineEvent
	dropped atomic.Int64

	// Database
	db Batcher

	// Batching
	batch   []klineRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewKlineWriter creates a new KlineWriter.
func NewKlineWriter(cfg Config, db Batcher, logger *slog.Logger) *KlineWriter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	return &KlineWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "kline_writer"),
		input:  make(chan model.KlineEvent, cfg.BufferSize),
		batch:  make([]klineRow, 0, cfg.BatchSize),
	}
}

// Observe queues closed candles. Open candles and other events are ignored.
func (w *KlineWriter) Observe(ev model.Event) {
	k, ok := ev.(model.KlineEvent)
	if !ok || !k.Closed {
		return
	}
	select {
	case w.input <- k:
	default:
		w.dropped.Add(1)
	}
}

// Start begins consuming candles and writing to the database.
func (w *KlineWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.logger.Info("kline writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes what is left.
func (w *KlineWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping kline writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("kline writer stop timed out")
	}

	// Final flush with the caller's context.
	w.drainInput()
	w.flush(ctx)

	w.logger.Info("kline writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *KlineWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Dropped = w.dropped.Load()
	return m
}

// consumeLoop accumulates candles and flushes on size or interval.
func (w *KlineWriter) consumeLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case k := <-w.input:
			w.handle(k)
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *KlineWriter) drainInput() {
	for {
		select {
		case k := <-w.input:
			w.append(k)
		default:
			return
		}
	}
}

func (w *KlineWriter) handle(k model.KlineEvent) {
	if w.append(k) {
		w.flush(w.ctx)
	}
}

// append adds k to the batch and reports whether the batch is full.
func (w *KlineWriter) append(k model.KlineEvent) bool {
	row := transform(k)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a closed candle event to a klineRow.
func transform(k model.KlineEvent) klineRow {
	return klineRow{
		Exchange:  k.Channel.Exchange,
		Symbol:    k.Channel.Symbol,
		Timeframe: k.Channel.Timeframe,
		OpenTime:  time.UnixMilli(k.OHLCV.OpenTime).UTC(),
		Open:      k.OHLCV.Open,
		High:      k.OHLCV.High,
		Low:       k.OHLCV.Low,
		Close:     k.OHLCV.Close,
		Volume:    k.OHLCV.Volume,
	}
}

// flush writes the current batch to the database.
func (w *KlineWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]klineRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed candles",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *KlineWriter) batchInsert(ctx context.Context, rows []klineRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertKline, r.Exchange, r.Symbol, r.Timeframe, r.OpenTime, r.Open, r.High, r.Low, r.Close, r.Volume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
