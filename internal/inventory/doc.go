// Package inventory models what a DALI gateway reports about itself and
// computes the difference between two scans.
//
// An Item is one reportable entity (gateway, device, group or scene). Its
// identity is the Key (gateway serial, kind, id); display name, type info
// and online flag are mutable metadata.
//
// Diff compares a previous Snapshot with a fresh scan and classifies every
// key as added, removed, changed or unchanged. It is pure and deterministic.
// Callers must not diff an empty fresh scan against a non-empty snapshot:
// an empty inventory is a transient gateway failure, not a mass removal.
package inventory
