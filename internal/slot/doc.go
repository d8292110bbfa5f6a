// Package slot maps keys onto the 16384 hash slots of a slot-sharded key-value
// cluster, bit-for-bit compatible with the slot function used by Redis Cluster.
//
// # Overview
//
// Every key belongs to exactly one slot in [0, 16383]. The slot is derived from
// a CRC16 checksum of the key (or of its hash tag, see below) reduced modulo
// 16384. Clients use the slot to decide which node must serve a request, and
// multi-key operations are only safe when every key lands in the same slot.
//
//	Key → Hash tag? → CRC16/XMODEM → mod 16384 → Slot
//	"{user:123}:cart" → "user:123" → 0x325D → 12893
//
// # Checksum
//
// The checksum is CRC16 with the CCITT polynomial 0x1021, a zero seed and no
// reflection (the XMODEM variant). It is computed a byte at a time through a
// 256-entry lookup table that is built once at package initialisation and only
// read afterwards:
//
//	crc = (crc << 8) ^ table[(crc >> 8) ^ b]
//
// The table, the seed and the modulo are an interoperability contract. Changing
// any of them moves keys to different slots than the ones a real cluster uses.
//
// # Hash Tags
//
// A hash tag is the substring between the first '{' in a key and the first '}'
// that follows it. When it exists and is non-empty, only the tag is hashed, so
// related keys can be forced into one slot:
//
//	{user:123}:cart     → tag "user:123"
//	{user:123}:orders   → tag "user:123"   (same slot as above)
//	user:123:cart       → no tag
//	{}:key              → no tag (empty braces)
//	{user:123:cart      → no tag (no closing brace)
//	a{b}{c}             → tag "b" (only the first pair counts)
//
// An unmatched '{' and an empty "{}" both produce "no tag", in which case the
// whole key is hashed. Callers cannot distinguish the two cases.
//
// # Co-location
//
// AnalyzeKeys checks whether a group of keys shares a slot. The first key sets
// the baseline; the check stops at the first key whose slot differs.
//
// # Concurrency
//
// All functions are pure. The lookup table is never written after init, so the
// package is safe for concurrent use without locking.
//
// # Usage Example
//
//	s := slot.KeySlot("user:123")
//
//	tag, ok := slot.HashTag("{user:123}:cart")
//
//	analysis, err := slot.AnalyzeKeys([]string{"{u1}:a", "{u1}:b"})
//	if err != nil {
//	    return err
//	}
//	if !analysis.SameSlot {
//	    return errors.New("CROSSSLOT keys in request don't hash to the same slot")
//	}
package slot
