// Package core holds the send-control pipeline: the request and batch
// types, the coalescing queue, the cooldown, dedupe and permit gates, and
// the orchestrator that walks each batch through them before handing
// payloads to a platform sender.
package core
