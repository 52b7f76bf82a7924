package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"perf-collector/internal/config"
	"perf-collector/internal/core"
	"perf-collector/internal/db"
	"perf-collector/internal/host"
	"perf-collector/internal/ledger"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	inputFlagName    = "input"
	throttleFlagName = "throttle"

	flushWaitPeriods = 4
	flushWaitSlack   = 100 * time.Millisecond
)

func Replay() cli.Command {
	return cli.Command{
		Name:  "replay",
		Usage: "run a JSON array of recorded entries through a collector and print the batches",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  inputFlagName,
				Usage: "file holding the entries, '-' for stdin",
				Value: "-",
			},
			cli.DurationFlag{
				Name:  throttleFlagName,
				Usage: "flush throttle, overrides the config file",
				Value: -1,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.GlobalString(confFlagName))
			if err != nil {
				return err
			}
			if d := c.Duration(throttleFlagName); d >= 0 {
				cfg.Collector.Throttle = d
			}

			in := io.Reader(os.Stdin)
			if name := c.String(inputFlagName); name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return errors.Wrapf(err, "opening %s", name)
				}
				defer f.Close()
				in = f
			}
			return replay(context.Background(), in, os.Stdout, cfg.Collector)
		},
	}
}

// replayLine is one line of replay output. Exactly one of the batch fields
// or Stats is set.
type replayLine struct {
	Kind       string             `json:"kind"`
	BatchID    string             `json:"batch_id,omitempty"`
	Root       string             `json:"root,omitempty"`
	LedgerTxID string             `json:"ledger_tx_id,omitempty"`
	Entries    []core.TimingEntry `json:"entries,omitempty"`
	Stats      *core.Stats        `json:"stats,omitempty"`
}

// replay records the input on a fresh timeline before it is ready, so the
// collector sees it as the initial snapshot. Flushed batches go through a
// relay backed by in-memory sinks; whatever is still buffered when the
// flush does not come in time is taken and printed unfiltered.
func replay(ctx context.Context, in io.Reader, out io.Writer, cfg config.CollectorConfig) error {
	var entries []core.TimingEntry
	if err := json.NewDecoder(in).Decode(&entries); err != nil {
		return errors.Wrap(err, "decoding entries")
	}

	tl := host.NewTimeline(host.WithCapacity(len(entries)))
	tl.Record(entries...)

	enc := &lineEncoder{enc: json.NewEncoder(out)}
	relay := core.NewRelay(nil, ledger.NewMockLedger(), db.NewMemoryDB())
	results := make(chan error, 1)

	collectorCfg := cfg.CoreConfig()
	collectorCfg.Callback = func(batch []core.TimingEntry) {
		b, err := relay.Deliver(ctx, batch)
		if err == nil {
			err = enc.Encode(replayLine{
				Kind:       "batch",
				BatchID:    b.ID,
				Root:       b.Digest.Root,
				LedgerTxID: b.LedgerTxID,
				Entries:    b.Entries,
			})
		}
		select {
		case results <- err:
		default:
			grip.Error(message.WrapError(err, message.Fields{"message": "replay batch"}))
		}
	}

	collector, err := core.Start(tl, collectorCfg)
	if err != nil {
		return errors.Wrap(err, "starting collector")
	}
	tl.Ready()

	err = waitForFlush(ctx, collector, results, collectorCfg.Throttle)
	collector.Cancel()
	if err != nil {
		return errors.Wrap(err, "relaying batch")
	}

	if left := collector.TakeEntries(); len(left) > 0 {
		if err := enc.Encode(replayLine{Kind: "taken", Entries: left}); err != nil {
			return errors.Wrap(err, "writing taken entries")
		}
	}
	stats := collector.Stats()
	return errors.Wrap(enc.Encode(replayLine{Kind: "stats", Stats: &stats}), "writing stats")
}

// waitForFlush returns once the snapshot flush has been relayed, or has
// filtered everything out, or ctx is done, or a few throttle periods have
// passed without a flush.
func waitForFlush(ctx context.Context, collector *core.Collector, results <-chan error, throttle time.Duration) error {
	poll := throttle / 4
	if poll < time.Millisecond {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(flushWaitPeriods*throttle + flushWaitSlack)
	defer deadline.Stop()

	for {
		select {
		case err := <-results:
			return err
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			grip.Warning(message.Fields{
				"message":  "no flush before deadline, taking buffered entries",
				"throttle": throttle.String(),
			})
			return nil
		case <-ticker.C:
			// The callback is not invoked when the filter removes everything.
			if s := collector.Stats(); s.Flushes > 0 && s.Delivered == 0 {
				return nil
			}
		}
	}
}

// lineEncoder serializes writes from the flush timer and the caller.
type lineEncoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (e *lineEncoder) Encode(line replayLine) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(line)
}
