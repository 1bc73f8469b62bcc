// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"errors"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Post is the effect operation for placing a request in the mailbox.
// Perform(Post{Request: r}) hands r to the target endpoint's responder.
type Post struct {
	kont.Phantom[struct{}]
	Request Request
}

// DispatchMailbox handles Post on the exchange context.
// Non-blocking: returns iox.ErrWouldBlock while an earlier request from the
// same mailbox is still outstanding.
func (p Post) DispatchMailbox(ctx *MailboxContext) (kont.Resumed, error) {
	if !ctx.mailbox.Available() {
		return nil, iox.ErrWouldBlock
	}
	if err := ctx.mailbox.MakeRequest(p.Request, ctx.target); err != nil {
		if errors.Is(err, ErrMailboxBusy) {
			return nil, iox.ErrWouldBlock
		}
		return nil, err
	}
	ctx.posted = p.Request.Kind
	return struct{}{}, nil
}

// Await is the effect operation for waiting on the responder.
// Perform(Await{}) completes once the responder has cleared the mailbox.
type Await struct {
	kont.Phantom[struct{}]
}

// DispatchMailbox handles Await on the exchange context.
// Non-blocking: returns iox.ErrWouldBlock until the responder has written
// its answer and released the slot. A non-zero error code left by the
// responder is returned as an *Error.
func (Await) DispatchMailbox(ctx *MailboxContext) (kont.Resumed, error) {
	if !ctx.mailbox.Available() {
		return nil, iox.ErrWouldBlock
	}
	code, err := ctx.mailbox.result()
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, newError(code, "%s answered by %s", ctx.posted, ctx.target.Endpoint)
	}
	return struct{}{}, nil
}
