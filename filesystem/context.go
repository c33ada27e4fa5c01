package filesystem

import "syscall"

// opContext holds the store lock for the duration of one handler call.
// Calling Close() records the outcome and unwinds all cleanup callbacks
// (the unlock included) in reverse order.
//
// Mutating handlers register an undo callback for every change they make so
// that a strict-mode persistence failure can restore the store exactly.
//
// NOTE: opContext is **not** thread-safe and must not outlive the call
// that created it
type opContext struct {
	fs       *FileSystem
	op       string
	closeFns []func()
	undoFns  []func()
	err      error
}

// begin locks the store and returns a context for op.
func (fs *FileSystem) begin(op string) *opContext {
	fs.mu.Lock()
	ctx := &opContext{fs: fs, op: op}
	ctx.AddClose(fs.mu.Unlock)
	return ctx
}

// AddClose pushes a cleanup callback (e.g., unlock) onto the end of the stack.
func (ctx *opContext) AddClose(fn func()) {
	ctx.closeFns = append(ctx.closeFns, fn)
}

// AddUndo pushes a callback reverting one change made under this context.
func (ctx *opContext) AddUndo(fn func()) {
	ctx.undoFns = append(ctx.undoFns, fn)
}

// Fail records err as the outcome of the call and returns it.
func (ctx *opContext) Fail(err error) error {
	ctx.err = err
	return err
}

// rollback undoes every registered change, newest first.
func (ctx *opContext) rollback() {
	for i := len(ctx.undoFns) - 1; i >= 0; i-- {
		ctx.undoFns[i]()
	}
	ctx.undoFns = nil
}

// Commit hands the mutated store to the persister. A persistence failure is
// logged and tolerated unless the filesystem runs with StrictPersist, in
// which case the changes are rolled back and EIO is returned.
func (ctx *opContext) Commit() error {
	fs := ctx.fs
	if err := fs.persister.Persist(fs.store); err != nil {
		if fs.cfg.StrictPersist {
			fs.logger.Error().Err(err).Str("op", ctx.op).Msg("Persist failed; rolling back")
			ctx.rollback()
			return ctx.Fail(syscall.EIO)
		}
		fs.logger.Error().Err(err).Str("op", ctx.op).Msg("Persist failed; keeping in-memory change")
	}
	ctx.undoFns = nil
	fs.recorder.SetNodes(fs.store.Counts())
	return nil
}

// Close unwinds all cleanup callbacks in reverse order.
// Safe to call on a nil context so callers can `defer ctx.Close()`
// unconditionally.
func (ctx *opContext) Close() {
	if ctx == nil {
		return
	}
	ctx.fs.recorder.ObserveOp(ctx.op, ctx.err)
	for i := len(ctx.closeFns) - 1; i >= 0; i-- {
		ctx.closeFns[i]()
	}
	ctx.closeFns = nil
}
