// Package notifier delivers direct messages to users.
//
// Notify only enqueues. A fixed worker pool drains the queue through a shared
// token bucket, retrying failed sends with jittered exponential backoff. An
// identical (chat, text) pair inside the dedup window is suppressed, which
// keeps a re-run tick from messaging the same subscriber twice.
//
// Delivery failures never reach the caller; they are logged and published on
// the event bus as notifier.failed.
package notifier
