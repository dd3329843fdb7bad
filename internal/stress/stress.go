// Package stress drives a single TreeBin with one writer and many readers
// and checks that readers only ever observe live, correct nodes.
package stress

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/llxisdsh/treebin"
	"github.com/llxisdsh/treebin/epoch"
)

// ErrViolation is returned, wrapped, when a reader or the final check
// observes an inconsistent bin.
var ErrViolation = errors.New("tree bin violation")

// Config describes one stress run.
type Config struct {
	Keys    int  // number of keys, 0..Keys-1
	Readers int  // reader goroutines
	Rounds  int  // remove/reinsert rounds of the even keys
	Collide bool // give every key the same hash
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Keys < 2:
		return errors.Newf("keys must be at least 2, got %d", c.Keys)
	case c.Readers < 1:
		return errors.Newf("readers must be at least 1, got %d", c.Readers)
	case c.Rounds < 1:
		return errors.Newf("rounds must be at least 1, got %d", c.Rounds)
	}
	return nil
}

func (c Config) hash(k int) uint64 {
	if c.Collide {
		return 0
	}
	return uint64(k)
}

// Result summarizes a run.
type Result struct {
	Sweeps     int64
	Finds      int64
	Misses     int64
	Removes    int64
	Inserts    int64
	Reclaimed  int64
	Pending    int
	Epoch      uint64
	Violations int64
	Elapsed    time.Duration
}

// Run executes cfg. Cancelling ctx stops the writer after its current
// round. A non-nil error wrapping ErrViolation reports the first problem
// seen.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var res Result
	var reclaimed atomic.Int64
	nodes := make([]*treebin.TreeNode[int, int], cfg.Keys)
	for k := range nodes {
		nodes[k] = treebin.NewTreeNode(cfg.hash(k), k, k*10)
	}
	b := treebin.NewTreeBin(treebin.LinkTreeNodes(nodes...),
		treebin.WithNodeDestructor(func(*treebin.TreeNode[int, int]) { reclaimed.Add(1) }),
	)
	c := epoch.NewCollector()

	var (
		stop       atomic.Bool
		wg         sync.WaitGroup
		finds      atomic.Int64
		misses     atomic.Int64
		sweeps     atomic.Int64
		violations atomic.Int64
		firstErr   atomic.Pointer[error]
	)
	report := func(err error) {
		violations.Add(1)
		firstErr.CompareAndSwap(nil, &err)
	}

	sweep := func() {
		g := c.Pin()
		defer g.Unpin()
		for k := range cfg.Keys {
			n := b.Find(cfg.hash(k), k, g)
			finds.Add(1)
			switch {
			case n == nil && k%2 == 1:
				report(errors.Wrapf(ErrViolation, "retained key %d not found", k))
			case n == nil:
				misses.Add(1)
			case n.Reclaimed():
				report(errors.Wrapf(ErrViolation, "key %d resolved to a reclaimed node", k))
			case n.Key() != k || n.Value() != k*10:
				report(errors.Wrapf(ErrViolation, "key %d resolved to %d=%d", k, n.Key(), n.Value()))
			}
		}
		sweeps.Add(1)
	}

	// overlap blocks until some reader completes a sweep after since.
	overlap := func(since int64) {
		for sweeps.Load() <= since {
			runtime.Gosched()
		}
	}

	start := time.Now()
	var started sync.WaitGroup
	for range cfg.Readers {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			for !stop.Load() {
				sweep()
			}
		}()
	}
	started.Wait()

	var writeErr error
	for round := 0; round < cfg.Rounds && writeErr == nil; round++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("stopping early", "round", round, "error", err)
			break
		}
		since := sweeps.Load()
		for k := 0; k < cfg.Keys; k += 2 {
			g := c.Pin()
			if n := b.Find(cfg.hash(k), k, g); n != nil {
				b.RemoveTreeNode(n, true, g)
				res.Removes++
			} else {
				writeErr = errors.Wrapf(ErrViolation, "round %d: writer lost key %d", round, k)
			}
			g.Unpin()
		}
		overlap(since)
		if round == cfg.Rounds-1 {
			break
		}
		for k := 0; k < cfg.Keys; k += 2 {
			g := c.Pin()
			if _, loaded := b.PutTreeVal(cfg.hash(k), k, k*10, g); loaded {
				writeErr = errors.Wrapf(ErrViolation, "round %d: key %d present after removal", round, k)
			}
			res.Inserts++
			g.Unpin()
		}
		logger.Debug("round done", "round", round, "epoch", c.Epoch(), "pending", c.Pending())
	}
	stop.Store(true)
	wg.Wait()
	c.Flush()

	res.Elapsed = time.Since(start)
	res.Sweeps = sweeps.Load()
	res.Finds = finds.Load()
	res.Misses = misses.Load()
	res.Reclaimed = reclaimed.Load()
	res.Pending = c.Pending()
	res.Epoch = c.Epoch()
	res.Violations = violations.Load()

	if writeErr != nil {
		return res, writeErr
	}
	if p := firstErr.Load(); p != nil {
		return res, *p
	}
	if err := b.Verify(); err != nil {
		return res, errors.Mark(errors.Wrap(err, "final verify"), ErrViolation)
	}
	if err := checkFinal(b, cfg); err != nil {
		return res, err
	}
	logger.Info("stress run passed",
		"keys", cfg.Keys, "readers", cfg.Readers, "rounds", cfg.Rounds, "elapsed", res.Elapsed)
	return res, nil
}

// checkFinal expects exactly the odd keys to remain.
func checkFinal(b *treebin.TreeBin[int, int], cfg Config) error {
	g := epoch.Unprotected()
	for k := range cfg.Keys {
		n := b.Find(cfg.hash(k), k, g)
		if k%2 == 0 && n != nil {
			return errors.Wrapf(ErrViolation, "removed key %d still found", k)
		}
		if k%2 == 1 && (n == nil || n.Value() != k*10) {
			return errors.Wrapf(ErrViolation, "retained key %d lost", k)
		}
	}
	if want := cfg.Keys / 2; b.Len() != want {
		return errors.Wrapf(ErrViolation, "%d nodes left, want %d", b.Len(), want)
	}
	return nil
}

func (r Result) String() string {
	return fmt.Sprintf("%d sweeps, %d finds, %d removes, %d inserts, %d reclaimed, %d violations",
		r.Sweeps, r.Finds, r.Removes, r.Inserts, r.Reclaimed, r.Violations)
}
