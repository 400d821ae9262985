// Package fec provides forward error correction for Whist frames.
//
// The underlying Reed-Solomon codec (github.com/klauspost/reedsolomon) is
// limited to 256 shards per code word. GroupCode lifts that limit by dealing
// buffers round-robin into groups, each coded independently:
//
//	code := fec.NewGroupCode(numReal, numReal+numFEC)
//	code.Encode(buffers)          // fills buffers[numReal:]
//	...
//	code.RegisterIndex(i)         // as buffers arrive
//	if code.CanDecode() {
//	    code.Decode(buffers)      // nil entries are missing
//	}
//
// The group count is the smallest g for which the largest group fits in
// MaxCodecShards and its overhead r*f/(r+f) stays under the configured
// ceiling. When no such g exists every original buffer forms its own group
// and the code degenerates to duplication.
//
// Encoder and Decoder wrap GroupCode for whole payloads: the payload is split
// into evenly sized pieces, each prefixed with a 2-byte length header that is
// itself protected, so recovered pieces also recover their sizes.
//
// Codecs are shared between all users through a bounded, mutex-protected
// cache keyed by (k, n). ResetCodecCache releases them.
//
// Misuse (registering an index twice, decoding before CanDecode, inconsistent
// sizes) is a programming error and panics.
package fec
