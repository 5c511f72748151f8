// Package stream implements the shared-subscription registry.
//
// A Manager maps each stream key to at most one physical connection and any
// number of Subscriptions sharing it:
//   - The first Subscribe for a key opens the connection
//   - Later Subscribes for the same key join the existing pipeline
//   - Closing the last Subscription tears the pipeline down exactly once
//   - Failed connections are retried with full-jitter backoff until
//     MaxRetryAttempts is exhausted, then every subscriber receives a
//     *MaxRetriesError
//
// Every subscriber owns an unbounded, ordered queue, so a slow consumer never
// stalls the connection or its siblings, and calling Subscribe or Close from
// inside a consumer is always safe.
package stream
