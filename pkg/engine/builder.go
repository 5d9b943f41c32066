package engine

import (
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/account"
	"github.com/hourglass-exchange/hourglass/pkg/clock"
	"github.com/hourglass-exchange/hourglass/pkg/datasource"
	"github.com/hourglass-exchange/hourglass/pkg/errs"
	"github.com/hourglass-exchange/hourglass/pkg/market"
)

// requestQueueDepth bounds how many in-flight Dispatch calls can queue
// before a caller blocks sending; it is internal plumbing, not a knob spec
// §5's "implementers may substitute bounded channels" leaves to the caller.
const requestQueueDepth = 64

// Builder assembles an Engine from its collaborators (spec §9: "construction
// has many optional fields — model as a builder with a final initiate()
// that validates required fields"). Every With* method returns the same
// *Builder so calls chain; initiate is the only one that can fail.
type Builder struct {
	ds       datasource.DataSource
	cfg      *account.Config
	events   chan<- account.Event
	marketTx chan<- MarketEvent
	archive  *account.Archive
	clk      *clock.Clock
	log      *zap.Logger

	machineID       uint16
	fundingInterval int64
}

// NewBuilder starts an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithDataSource sets the required market-trade stream.
func (b *Builder) WithDataSource(ds datasource.DataSource) *Builder {
	b.ds = ds
	return b
}

// WithAccount sets the required account configuration snapshot.
func (b *Builder) WithAccount(cfg account.Config) *Builder {
	b.cfg = &cfg
	return b
}

// WithMarketEventChannel sets the required outbound MarketEvent sink.
func (b *Builder) WithMarketEventChannel(ch chan<- MarketEvent) *Builder {
	b.marketTx = ch
	return b
}

// WithEventChannel sets the optional outbound account.Event sink. If never
// called, account events are dropped rather than blocking the engine.
func (b *Builder) WithEventChannel(ch chan<- account.Event) *Builder {
	b.events = ch
	return b
}

// WithArchive attaches an optional durable exited-position store.
func (b *Builder) WithArchive(a *account.Archive) *Builder {
	b.archive = a
	return b
}

// WithClock overrides the default virtual clock (zero-latency, starting at
// timestamp 0). Pass one of your own to control the seed and starting
// exchange_timestamp of a deterministic backtest.
func (b *Builder) WithClock(c *clock.Clock) *Builder {
	b.clk = c
	return b
}

// WithMachineID sets the machine id minted into every OrderId this engine
// assigns (spec §9: "retain this triple verbatim"). Defaults to zero.
func (b *Builder) WithMachineID(id uint16) *Builder {
	b.machineID = id
	return b
}

// WithFundingInterval sets the virtual-time spacing, in microseconds,
// between funding settlements (spec §4.4 mentions "e.g., every 8h"). Zero
// (the default) disables funding entirely.
func (b *Builder) WithFundingInterval(us int64) *Builder {
	b.fundingInterval = us
	return b
}

// WithLogger overrides the default no-op logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// Initiate validates the required fields (data_source, account,
// market_event_tx, per spec §9) and returns the assembled Engine, ready to
// have Run started on a goroutine of the caller's choosing.
func (b *Builder) Initiate() (*Engine, error) {
	if b.ds == nil {
		return nil, errs.Validationf(errs.MissingBuilderField, "builder: data source is required")
	}
	if b.cfg == nil {
		return nil, errs.Validationf(errs.MissingBuilderField, "builder: account config is required")
	}
	if b.marketTx == nil {
		return nil, errs.Validationf(errs.MissingBuilderField, "builder: market event channel is required")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	clk := b.clk
	if clk == nil {
		clk = clock.New(0, clock.LatencyParams{Mode: clock.Constant}, 1)
	}

	state := account.New(*b.cfg, b.machineID, b.archive, b.events, log)

	return &Engine{
		state:           state,
		ds:              b.ds,
		clk:             clk,
		log:             log,
		marketTx:        b.marketTx,
		fundingInterval: b.fundingInterval,
		lastFunding:     make(map[market.Instrument]int64),
		tob:             make(map[market.Instrument]*topOfBook),
		reqCh:           make(chan envelope, requestQueueDepth),
	}, nil
}
