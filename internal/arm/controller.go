// Package arm owns the two arm switches: mainSwitch and devicePower.
//
// A single goroutine holds the authoritative copy. Local writes, engine
// anticipation and remote changes made by other viewers all funnel through
// it, and every committed change is fanned out to subscribers. Concurrent
// writers resolve last-write-wins, and local changes reach the shared store
// in commit order.
package arm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/remote"
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("arm controller stopped")

// remoteWriteTimeout bounds how long the owner goroutine waits on the shared store.
const remoteWriteTimeout = 5 * time.Second

// Source tells where a change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Change is one committed switch update.
type Change struct {
	Flags  remote.Flags
	Flag   remote.Flag
	Source Source
}

type setRequest struct {
	ctx    context.Context
	flag   remote.Flag
	value  bool
	source Source
	reply  chan setResult
}

type setResult struct {
	flags   remote.Flags
	changed bool
	err     error
}

// Controller serialises every read and write of the arm flags.
type Controller struct {
	repo   *Repository
	store  remote.Store
	logger zerolog.Logger

	sets      chan setRequest
	snapshots chan chan remote.Flags
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

// NewController loads the cached flags and starts the owner goroutine.
// store may be nil when no shared store is configured.
func NewController(ctx context.Context, repo *Repository, store remote.Store, logger zerolog.Logger) (*Controller, error) {
	initial, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		repo:      repo,
		store:     store,
		logger:    logger.With().Str("component", "arm").Logger(),
		sets:      make(chan setRequest),
		snapshots: make(chan chan remote.Flags),
		stopCh:    make(chan struct{}),
		subs:      make(map[chan Change]struct{}),
	}
	c.wg.Add(1)
	go c.run(initial)
	return c, nil
}

// Start adopts the shared store's flags and folds in later remote changes until Stop.
// An unreachable store is logged; the cached flags stay in effect.
func (c *Controller) Start(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("remote flags unavailable, using cached values")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	events, err := c.store.WatchFlags(watchCtx)
	if err != nil {
		cancel()
		c.logger.Warn().Err(err).Msg("remote flag watch unavailable")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		for {
			select {
			case <-c.stopCh:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if _, _, err := c.apply(context.Background(), ev.Flag, ev.Value, SourceRemote); err != nil && !errors.Is(err, ErrStopped) {
					c.logger.Error().Err(err).Str("flag", string(ev.Flag)).Msg("failed to apply remote flag change")
				}
			}
		}
	}()
}

// Stop ends the owner goroutine and the remote watch.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Refresh pulls both flags from the shared store.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	flags, err := c.store.GetFlags(ctx)
	if err != nil {
		return err
	}
	if _, _, err := c.apply(ctx, remote.FlagMainSwitch, flags.MainSwitch, SourceRemote); err != nil {
		return err
	}
	_, _, err = c.apply(ctx, remote.FlagDevicePower, flags.DevicePower, SourceRemote)
	return err
}

// Snapshot returns the current flags.
func (c *Controller) Snapshot() remote.Flags {
	reply := make(chan remote.Flags, 1)
	select {
	case c.snapshots <- reply:
		return <-reply
	case <-c.stopCh:
		flags, _ := c.repo.Load(context.Background())
		return flags
	}
}

// SetMainSwitch sets the master enable flag.
func (c *Controller) SetMainSwitch(ctx context.Context, on bool) (remote.Flags, error) {
	return c.set(ctx, remote.FlagMainSwitch, on)
}

// SetDevicePower sets the unit power flag.
func (c *Controller) SetDevicePower(ctx context.Context, on bool) (remote.Flags, error) {
	return c.set(ctx, remote.FlagDevicePower, on)
}

// Subscribe returns a channel of committed changes and a cancel func.
// A slow subscriber only misses intermediate values, never the latest one.
func (c *Controller) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 1)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()
	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, ch)
		c.subsMu.Unlock()
	}
}

func (c *Controller) set(ctx context.Context, flag remote.Flag, value bool) (remote.Flags, error) {
	flags, _, err := c.apply(ctx, flag, value, SourceLocal)
	return flags, err
}

func (c *Controller) apply(ctx context.Context, flag remote.Flag, value bool, source Source) (remote.Flags, bool, error) {
	req := setRequest{ctx: ctx, flag: flag, value: value, source: source, reply: make(chan setResult, 1)}
	select {
	case c.sets <- req:
	case <-c.stopCh:
		return remote.Flags{}, false, ErrStopped
	}
	res := <-req.reply
	return res.flags, res.changed, res.err
}

func (c *Controller) run(flags remote.Flags) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case reply := <-c.snapshots:
			reply <- flags
		case req := <-c.sets:
			next := flags
			switch req.flag {
			case remote.FlagMainSwitch:
				next.MainSwitch = req.value
			case remote.FlagDevicePower:
				next.DevicePower = req.value
			default:
				req.reply <- setResult{flags: flags, err: errors.New("unknown flag " + string(req.flag))}
				continue
			}
			if next == flags {
				req.reply <- setResult{flags: flags}
				continue
			}
			if err := c.repo.Save(context.Background(), next); err != nil {
				req.reply <- setResult{flags: flags, err: err}
				continue
			}
			flags = next
			c.logger.Info().
				Str("flag", string(req.flag)).
				Bool("value", req.value).
				Str("source", string(req.source)).
				Msg("arm flag changed")
			if req.source == SourceLocal {
				c.mirror(req.ctx, req.flag, req.value)
			}
			c.publish(Change{Flags: flags, Flag: req.flag, Source: req.source})
			req.reply <- setResult{flags: flags, changed: true}
		}
	}
}

// mirror writes a committed local change to the shared store. It runs on the
// owner goroutine so remote writes go out in the same order as local commits.
func (c *Controller) mirror(ctx context.Context, flag remote.Flag, value bool) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteWriteTimeout)
	defer cancel()
	if err := c.store.SetFlag(ctx, flag, value); err != nil {
		c.logger.Warn().Err(err).Str("flag", string(flag)).Msg("remote flag write failed, keeping local change")
	}
}

func (c *Controller) publish(change Change) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- change:
		default:
			// Replace the stale pending value with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- change:
			default:
			}
		}
	}
}
