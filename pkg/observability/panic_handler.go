package observability

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// Panic is a recovered panic carried as an error
type Panic struct {
	Where string
	Value interface{}
	Stack []byte
}

func (p *Panic) Error() string {
	if p.Where == "" {
		return fmt.Sprintf("panic: %v", p.Value)
	}
	return fmt.Sprintf("panic in %s: %v", p.Where, p.Value)
}

// Unwrap exposes the panic value when it was itself an error
func (p *Panic) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// NewPanic captures r and the current stack. A nil r yields nil, so the
// result of recover() can be passed straight in:
//
//	defer func() {
//	    if p := observability.NewPanic("import", recover()); p != nil {
//	        err = p
//	    }
//	}()
func NewPanic(where string, r interface{}) *Panic {
	if r == nil {
		return nil
	}
	return &Panic{Where: where, Value: r, Stack: debug.Stack()}
}

var panicHook atomic.Pointer[func(where string)]

// SetPanicHook registers fn to be told about every panic passed to
// ReportPanic. A nil fn removes the hook.
func SetPanicHook(fn func(where string)) {
	if fn == nil {
		panicHook.Store(nil)
		return
	}
	panicHook.Store(&fn)
}

// ReportPanic logs p with its stack and notifies the panic hook
func ReportPanic(logger *Logger, p *Panic) {
	if p == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic": fmt.Sprint(p.Value),
		"stack": string(p.Stack),
		"where": p.Where,
	}).Error("PANIC recovered")

	if hook := panicHook.Load(); hook != nil {
		(*hook)(p.Where)
	}
}

// RecoverPanic recovers and reports a panic. It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "usage gauge refresh")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	ReportPanic(logger, NewPanic(where, recover()))
}
