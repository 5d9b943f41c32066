package account

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// Archive is the optional, write-behind exited-position store (spec §6):
// ExitedPosition is never the system of record — State.FetchExited reads
// from memory — but a pebble-backed Archive gives a session's closed
// positions a durable trail a node can be restarted against.
//
// Key schema, one append-only row per closed position:
//   exit:{session}:{closeTS:020d}:{instrument}:{seq}
// Zero-padding closeTS keeps a session's rows in close order under a
// lexicographic range scan.
type Archive struct {
	db      *pebble.DB
	session uuid.UUID
	seq     int64
}

const prefixExit = "exit:"

// OpenArchive opens (creating if absent) a pebble database at dbPath for
// one session's exited-position trail.
func OpenArchive(dbPath string, session uuid.UUID) (*Archive, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open exited-position archive at %s: %w", dbPath, err)
	}
	return &Archive{db: db, session: session}, nil
}

// Close closes the underlying pebble database.
func (a *Archive) Close() error {
	return a.db.Close()
}

type exitedRow struct {
	Session       uuid.UUID  `json:"session"`
	Instrument    string     `json:"instrument"`
	Direction     Direction  `json:"direction"`
	Qty           string     `json:"qty"`
	AvgEntryPrice string     `json:"avg_entry"`
	ExitPrice     string     `json:"exit_price"`
	RealizedPnL   string     `json:"realized_pnl"`
	ExitReason    ExitReason `json:"exit_reason"`
	OpenTS        int64      `json:"open_ts"`
	CloseTS       int64      `json:"close_ts"`
}

func exitKey(session uuid.UUID, closeTS int64, instrument string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s:%020d", prefixExit, session, closeTS, instrument, seq))
}

// Put appends one ExitedPosition to the archive. Never returns an error the
// caller needs to treat as fatal — the in-memory archive already has the
// row, so a persistence failure only degrades restart recovery, which the
// caller logs and moves on from.
func (a *Archive) Put(ep ExitedPosition) error {
	a.seq++
	row := exitedRow{
		Session:       a.session,
		Instrument:    ep.Instrument.Symbol(),
		Direction:     ep.Direction,
		Qty:           ep.Qty.String(),
		AvgEntryPrice: ep.AvgEntryPrice.String(),
		ExitPrice:     ep.ExitPrice.String(),
		RealizedPnL:   ep.RealizedPnL.String(),
		ExitReason:    ep.ExitReason,
		OpenTS:        ep.OpenTS,
		CloseTS:       ep.CloseTS,
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal exited position: %w", err)
	}
	key := exitKey(a.session, ep.CloseTS, row.Instrument, a.seq)
	return a.db.Set(key, data, pebble.Sync)
}

// LoadSession returns every exited-position row this session has persisted,
// in close-time order.
func (a *Archive) LoadSession() ([]ExitedPosition, error) {
	prefix := []byte(fmt.Sprintf("%s%s:", prefixExit, a.session))
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	upper[len(upper)-1]++

	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	defer iter.Close()

	var out []ExitedPosition
	for iter.First(); iter.Valid(); iter.Next() {
		var row exitedRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			continue
		}
		base, quote, ok := strings.Cut(row.Instrument, "-")
		if !ok {
			continue
		}
		qty, _ := decimal.NewFromString(row.Qty)
		avgEntry, _ := decimal.NewFromString(row.AvgEntryPrice)
		exitPrice, _ := decimal.NewFromString(row.ExitPrice)
		realized, _ := decimal.NewFromString(row.RealizedPnL)
		out = append(out, ExitedPosition{
			Instrument:    market.New(base, quote, market.Perpetual),
			Direction:     row.Direction,
			Qty:           qty,
			AvgEntryPrice: avgEntry,
			ExitPrice:     exitPrice,
			RealizedPnL:   realized,
			ExitReason:    row.ExitReason,
			OpenTS:        row.OpenTS,
			CloseTS:       row.CloseTS,
		})
	}
	return out, nil
}
