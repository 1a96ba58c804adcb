// Package opus implements the simplest of the payload codecs: every
// Opus frame is self-delimited by the decoder and carried as exactly one
// transport packet, payload bytes verbatim.
package opus
