// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"errors"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// MailboxContext binds a requester mailbox to the endpoint it addresses.
type MailboxContext struct {
	mailbox Mailbox
	target  *Resources
	posted  RequestKind
}

// NewMailboxContext returns a context for requests from mb to target.
func NewMailboxContext(mb Mailbox, target *Resources) *MailboxContext {
	return &MailboxContext{mailbox: mb, target: target}
}

// mailboxDispatcher is the structural interface for mailbox operations.
// DispatchMailbox is non-blocking: it returns iox.ErrWouldBlock while the
// mailbox is busy.
type mailboxDispatcher interface {
	DispatchMailbox(ctx *MailboxContext) (kont.Resumed, error)
}

// exchange is one in-flight request/reply round trip owned by a port.
type exchange struct {
	ctx  MailboxContext
	kind RequestKind
	susp *kont.Suspension[struct{}]
}

func newExchange(mb Mailbox, target *Resources, r Request) *exchange {
	_, susp := Step(ExprRoundTrip(r))
	return &exchange{
		ctx:  MailboxContext{mailbox: mb, target: target},
		kind: r.Kind,
		susp: susp,
	}
}

// poll advances the exchange as far as the mailbox allows.
// It reports true once the reply has landed.
func (x *exchange) poll() (bool, error) {
	for x.susp != nil {
		var err error
		_, x.susp, err = Advance(&x.ctx, x.susp)
		if err != nil {
			if errors.Is(err, iox.ErrWouldBlock) {
				return false, nil
			}
			x.discard()
			return false, err
		}
	}
	return true, nil
}

// posted reports whether the request has reached the target.
func (x *exchange) posted() bool {
	if x.susp == nil {
		return true
	}
	_, waiting := x.susp.Op().(Await)
	return waiting
}

func (x *exchange) discard() {
	if x.susp != nil {
		x.susp.Discard()
		x.susp = nil
	}
}
