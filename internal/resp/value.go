// Package resp implements the RESP (REdis Serialization Protocol) wire
// codec: a pure byte-range decoder and a set of encoders for the frame
// types the server and its replicas exchange.
package resp

// Kind identifies the wire type of a decoded Value.
type Kind int

const (
	SimpleString Kind = iota
	Error
	Integer
	Bulk
	Array
	NullBulk
	NullArray
)

// Value is a decoded RESP frame. Only the fields relevant to Kind are
// populated: Str for SimpleString/Error/Bulk, Int for Integer, Items for
// Array.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Items []Value
}

// shortConstants are the textual constants the encoder renders as Simple
// Strings rather than Bulk Strings per the wire contract; everything else
// goes out as a Bulk String.
var shortConstants = map[string]bool{
	"PONG": true, "OK": true, "string": true, "integer": true,
	"list": true, "hash": true, "stream": true, "none": true,
}

// IsShortConstant reports whether s belongs to the small set of textual
// constants that are encoded as Simple Strings rather than Bulk Strings.
func IsShortConstant(s string) bool {
	return shortConstants[s]
}
