// Package scheduler turns cron and interval specs into task engine submissions.
// It only triggers; execution, retries and overlap handling live in the engine.
package scheduler
