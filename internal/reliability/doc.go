// Package reliability provides backoff policies for retrying failed
// operations.
//
// Policies compute the delay before the next attempt and carry no state about
// the operation itself; callers own the retry loop and the decision to stop.
//
//	backoff := reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2)
//	delay := backoff.NextDelay(attempt)
package reliability
