// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"context"

	"code.hybscloud.com/iox"
)

// Negotiate drives transports until every given circuit is ready.
// Interleaves mailbox service and readiness polling on the calling
// goroutine using adaptive backoff (iox.Backoff) when no transport makes
// progress. Does not spawn goroutines.
func Negotiate(ctx context.Context, transports []*Transport, circuits ...*Circuit) error {
	var bo iox.Backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := false
		for _, t := range transports {
			n, err := t.CheckMailboxes()
			if err != nil {
				return err
			}
			progress = progress || n > 0
		}
		ready := true
		for _, c := range circuits {
			if c.ready {
				continue
			}
			ok, err := c.Ready()
			if err != nil {
				return err
			}
			if ok {
				progress = true
			}
			ready = ready && ok
		}
		if ready {
			return nil
		}
		if !progress {
			bo.Wait()
		} else {
			bo.Reset()
		}
	}
}

// Drain runs queued transfers of every circuit of the given transports
// until none is left or ctx is done.
func Drain(ctx context.Context, transports ...*Transport) error {
	var bo iox.Backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		left := 0
		for _, t := range transports {
			if _, err := t.Poll(); err != nil {
				return err
			}
			for _, c := range t.Circuits() {
				left += c.QueuedTransfers()
			}
		}
		if left == 0 {
			return nil
		}
		bo.Wait()
	}
}
