// Package connection provides the reconnect policy used by relay clients.
//
// This package handles:
//   - Exponential backoff with jitter between attempts
//   - Bounding a reconnect loop by attempt count and deadline
//   - Stopping early on errors the server reports as final
//
// # Reconnection Strategy
//
// When the physical connection under a transport is lost, the client
// retries with exponential backoff:
//
//  1. First attempt: immediately
//  2. Then 100ms, 200ms, 400ms, ... doubling
//  3. Maximum delay: 5 seconds
//  4. Stop when the transport's grace period ends (Deadline), after
//     MaxAttempts attempts, or on a terminal error
//
// # Jitter
//
// To prevent thundering herd when many clients lose the same server:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
