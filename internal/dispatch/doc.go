// Package dispatch is the in-process host dispatcher that routes inbound
// events to registered handlers.
//
// Handlers are kept in a table keyed by (handler, group). Groups run in
// ascending order; within a group handlers run in registration order.
// Delivery takes a snapshot of the table and runs handlers outside any lock,
// so a handler may itself add or remove handlers (for example an operator
// command that unloads an extension).
//
// Mutations that must be observed atomically by delivery go through Batch:
//
//	err := router.Batch(func(t dispatch.HandlerTable) error {
//	    if err := t.AddHandler(a, 0); err != nil {
//	        return err
//	    }
//	    return t.AddHandler(b, 1)
//	})
//
// A concurrent Dispatch sees either none or all of the batch.
package dispatch
