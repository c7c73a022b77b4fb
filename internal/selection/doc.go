// Package selection persists which inventory items an operator chose to
// manage for each configured gateway.
//
// A Record holds the selected keys together with the full last-seen
// inventory snapshot used as the baseline for the next refresh. Records are
// always loaded and saved whole; Save replaces the previous record inside a
// single transaction, so a concurrent Load observes either the old record or
// the new one and never a mixture.
package selection
