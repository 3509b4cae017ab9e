// Package header provides the ordered header collection used by every part of
// a message. Field names are matched without regard to case, but the case used
// when a field was first set is the case written on output. Typed accessors
// cover the fields a message builder needs: addresses, dates, content types and
// transfer encodings.
package header
