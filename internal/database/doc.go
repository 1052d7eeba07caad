// Package database opens the PostgreSQL pool used for OHLCV history.
//
// Persistence is optional: when database.postgres.host is empty the hub
// runs without a pool and the history writer is not started. The writer
// expects a table shaped like
//
//	ohlcv(exchange text, symbol text, timeframe text, open_time timestamptz,
//	      open, high, low, close, volume double precision,
//	      primary key (exchange, symbol, timeframe, open_time))
package database
