package storage

// Package storage provides the optional persistence layer.
//
// It currently supports:
//   - Audit log appends (one row per terminal send outcome)
//   - Dedup fingerprint state (to survive restarts)
