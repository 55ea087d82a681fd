package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// DefaultRefreshInterval is how often the updater polls the node.
const DefaultRefreshInterval = 30 * time.Second

// RefreshResult counts what a refresh changed.
type RefreshResult struct {
	Tip         uint64
	Confirmed   int // outputs that became Unspent
	Spent       int // locked or unspent outputs no longer in the UTXO set
	TxConfirmed int // transactions whose kernel is on chain
}

type outputUpdate struct {
	commit types.Commitment
	from   walletdb.OutputStatus
	to     walletdb.OutputStatus
	height uint64
}

// Refresh queries the node for every output the wallet still counts as
// ours and every open transaction with a known kernel, and applies what it
// finds. An Unspent output missing from the UTXO set was spent elsewhere,
// for instance by a cancelled transaction that had already been posted. Node queries
// run outside the store lock; the results are applied in one mutation,
// skipping records that changed in the meantime.
func (w *Wallet) Refresh(ctx context.Context) (*RefreshResult, error) {
	if err := w.requireNode(); err != nil {
		return nil, err
	}
	tip, err := w.node.GetTip(ctx)
	if err != nil {
		return nil, err
	}

	var (
		pending []*walletdb.Output
		txs     []*walletdb.TxLogEntry
	)
	err = w.store.View(func(r *walletdb.Reader) error {
		var err error
		pending, err = r.Outputs(func(o *walletdb.Output) bool {
			switch o.Status {
			case walletdb.OutputUnconfirmed, walletdb.OutputLocked, walletdb.OutputUnspent:
				return true
			}
			return false
		})
		if err != nil {
			return err
		}
		all, err := r.Txs()
		if err != nil {
			return err
		}
		for _, e := range all {
			if !e.Status.IsTerminal() && e.KernelExcess != nil {
				txs = append(txs, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var updates []outputUpdate
	for _, o := range pending {
		info, err := w.node.GetOutput(ctx, o.Commit)
		if err != nil {
			return nil, err
		}
		switch {
		case o.Status == walletdb.OutputUnconfirmed && info != nil && !info.Spent:
			updates = append(updates, outputUpdate{o.Commit, o.Status, walletdb.OutputUnspent, info.Height})
		case o.Status != walletdb.OutputUnconfirmed && (info == nil || info.Spent):
			updates = append(updates, outputUpdate{o.Commit, o.Status, walletdb.OutputSpent, 0})
		}
	}
	confirmed := make(map[uint64]struct{})
	for _, e := range txs {
		k, err := w.node.GetKernel(ctx, *e.KernelExcess)
		if err != nil {
			return nil, err
		}
		if k != nil {
			confirmed[e.ID] = struct{}{}
		}
	}

	res := &RefreshResult{Tip: tip}
	now := w.cfg.Clock.Now()
	err = w.store.Update(func(t *walletdb.Txn) error {
		t.SetTip(tip)
		for _, u := range updates {
			o, err := t.Output(u.commit)
			if errors.Is(err, werr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if o.Status != u.from {
				continue
			}
			if u.to == walletdb.OutputUnspent {
				o.Height = u.height
				o.Status = walletdb.OutputUnspent
				if err := t.PutOutput(o); err != nil {
					return err
				}
				res.Confirmed++
				continue
			}
			if o.Status == walletdb.OutputUnspent {
				// Outputs only reach Spent through Locked.
				if err := t.SetOutputStatus(u.commit, walletdb.OutputLocked, nil); err != nil {
					return err
				}
			}
			if err := t.SetOutputStatus(u.commit, u.to, nil); err != nil {
				return err
			}
			res.Spent++
		}
		for id := range confirmed {
			e, err := t.Tx(id)
			if err != nil {
				return err
			}
			if e.Status.IsTerminal() {
				continue
			}
			if _, err := t.SetTxStatus(id, walletdb.StatusConfirmed, now); err != nil {
				return err
			}
			res.TxConfirmed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.SetTip(tip)
	return res, nil
}

// RunUpdater refreshes on every tick until ctx is done. Transport errors
// are logged and retried on the next tick.
func (w *Wallet) RunUpdater(ctx context.Context, t ticker.Ticker) error {
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			res, err := w.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ev := log.Wallet.Warn().Err(err)
				if !werr.IsRetryable(err) {
					ev = log.Wallet.Error().Err(err)
				}
				ev.Msg("Refresh failed")
				continue
			}
			if res.Confirmed+res.Spent+res.TxConfirmed > 0 {
				log.Wallet.Info().
					Uint64("tip", res.Tip).
					Int("confirmed", res.Confirmed).
					Int("spent", res.Spent).
					Int("tx_confirmed", res.TxConfirmed).
					Msg("Wallet refreshed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
