// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"code.hybscloud.com/kont"
)

// Step evaluates a mailbox protocol until the first effect suspension.
// Returns (result, nil) on completion, or (zero, suspension) if pending.
func Step[R any](protocol kont.Expr[R]) (R, *kont.Suspension[R]) {
	return kont.StepExpr(protocol)
}

// Advance dispatches the suspended mailbox operation on ctx.
// DispatchMailbox is non-blocking: it returns iox.ErrWouldBlock while the
// mailbox is owned by an outstanding request.
//
// On success (nil error), the suspension is consumed and the protocol
// advances to the next effect or completion.
// On iox.ErrWouldBlock, the suspension is unconsumed and may be retried
// after the responder has serviced the mailbox.
func Advance[R any](ctx *MailboxContext, susp *kont.Suspension[R]) (R, *kont.Suspension[R], error) {
	op, ok := susp.Op().(mailboxDispatcher)
	if !ok {
		panic("dataplane: unhandled effect in Advance")
	}
	v, err := op.DispatchMailbox(ctx)
	if err != nil {
		var zero R
		return zero, susp, err
	}
	result, next := susp.Resume(v)
	return result, next, nil
}
