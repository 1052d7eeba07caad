// Package writer persists closed OHLCV candles to PostgreSQL.
//
// KlineWriter is a hub tap. Observe never blocks: closed candles are
// buffered and dropped when the buffer is full, so a slow database never
// stalls delivery. Rows are batched and written with pgx.Batch using
// append-only semantics (ON CONFLICT DO NOTHING).
package writer
