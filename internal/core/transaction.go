package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trackcore/pkg/domain"
)

// Begin opens a local transaction on every active storage collaborator,
// opening the default one first when none is active yet.
func (u *UnitOfWork) Begin(ctx context.Context) (err error) {
	ctx, span := u.opts.tracer.Start(ctx, "begin")
	started := u.opts.now()
	defer func() {
		span.End(err)
		u.opts.metrics.Observe(ctx, "begin", err == nil, u.opts.now().Sub(started))
	}()

	u.txMu.Lock()
	defer u.txMu.Unlock()
	if u.inTx {
		return fmt.Errorf("begin: transaction already in progress")
	}
	if len(u.order) == 0 {
		if _, err := u.openLocked(ctx, ""); err != nil {
			return err
		}
	}
	if !u.opts.ambient && len(u.order) > 1 {
		return fmt.Errorf("begin on %d storages: %w", len(u.order), domain.ErrMultipleLocalTransactions)
	}
	for i, name := range u.order {
		if err := u.storages[name].Begin(ctx); err != nil {
			for _, opened := range u.order[:i] {
				_ = u.storages[opened].Rollback(ctx)
			}
			return fmt.Errorf("begin %s: %w", storageLabel(name), err)
		}
	}
	u.inTx = true
	return nil
}

// Commit commits the open transaction on every active storage collaborator.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	return u.finish(ctx, "commit", domain.Storage.Commit)
}

// Rollback aborts the open transaction on every active storage collaborator.
// Tracking state is not restored.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	return u.finish(ctx, "rollback", domain.Storage.Rollback)
}

// InTransaction reports whether Begin has been called without a matching
// Commit or Rollback.
func (u *UnitOfWork) InTransaction() bool {
	u.txMu.Lock()
	defer u.txMu.Unlock()
	return u.inTx
}

// RunInTransaction wraps fn and a final SaveChanges in Begin/Commit, rolling
// back when either fails.
func (u *UnitOfWork) RunInTransaction(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (Report, error) {
	if err := u.Begin(ctx); err != nil {
		return Report{}, err
	}
	if fn != nil {
		if err := fn(ctx, u); err != nil {
			return Report{}, errors.Join(err, u.Rollback(ctx))
		}
	}
	report, err := u.SaveChanges(ctx)
	if err != nil {
		return report, errors.Join(err, u.Rollback(ctx))
	}
	if err := u.Commit(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (u *UnitOfWork) finish(ctx context.Context, op string, call func(domain.Storage, context.Context) error) (err error) {
	ctx, span := u.opts.tracer.Start(ctx, op)
	started := u.opts.now()
	defer func() {
		span.End(err)
		u.opts.metrics.Observe(ctx, op, err == nil, u.opts.now().Sub(started))
	}()

	u.txMu.Lock()
	defer u.txMu.Unlock()
	if !u.inTx {
		return fmt.Errorf("%s: %w", op, domain.ErrNoTransaction)
	}
	u.inTx = false
	var errs []error
	for _, name := range u.order {
		if err := call(u.storages[name], ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, storageLabel(name), err))
		}
	}
	return errors.Join(errs...)
}

// storage returns the collaborator registered under name, opening it on
// first use.
func (u *UnitOfWork) storage(ctx context.Context, name string) (domain.Storage, error) {
	u.txMu.Lock()
	defer u.txMu.Unlock()
	return u.openLocked(ctx, name)
}

func (u *UnitOfWork) openLocked(ctx context.Context, name string) (domain.Storage, error) {
	if st, ok := u.storages[name]; ok {
		return st, nil
	}
	if u.inTx && len(u.order) > 0 && !u.opts.ambient {
		return nil, fmt.Errorf("open %s: %w", storageLabel(name), domain.ErrMultipleLocalTransactions)
	}
	if u.opts.factory == nil {
		return nil, fmt.Errorf("open %s: no storage factory configured", storageLabel(name))
	}
	st, err := u.opts.factory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", storageLabel(name), err)
	}
	if u.inTx {
		if err := st.Begin(ctx); err != nil {
			return nil, fmt.Errorf("begin %s: %w", storageLabel(name), err)
		}
	}
	u.storages[name] = st
	u.order = append(u.order, name)
	u.opts.logger.Debug("storage opened", zap.String("storage", storageLabel(name)), zap.Bool("in_transaction", u.inTx))
	return st, nil
}

func storageLabel(name string) string {
	if name == "" {
		return "default storage"
	}
	return "storage " + name
}
