// Package audit provides the security event trail for the ticket service.
//
// Events cover the ticket lifecycle: issuance, validation, rejection
// (with the failure reason), capability denials, and logout. Each event
// carries the time, event type, user id, client address, request id,
// and outcome. Events never contain ticket text or secret material, so
// the trail is safe to ship to log aggregation as-is.
//
// The logger is asynchronous: LogEvent hands the event to a buffered
// channel and returns immediately. A single writer goroutine drains the
// channel, appends JSON lines to the output, and flushes on an
// interval. When the buffer is full the event is dropped and counted
// rather than blocking the request path. Close drains everything still
// buffered before releasing the output.
//
// # Usage
//
//	logger, err := audit.NewLogger(&audit.Config{
//	    Enabled: true,
//	    Output:  "/var/log/tktauth/audit.log",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.LogEvent(ctx, audit.TicketIssued("alice").
//	    WithClientIP(addr).
//	    WithRequestID(requestID))
package audit
