package slot

import (
	"errors"
	"strings"
)

const (
	// NumSlots is the fixed number of hash slots in a cluster.
	NumSlots = 16384

	// MaxSlot is the highest valid slot number.
	MaxSlot = NumSlots - 1

	// NoSlot is reported as the common slot when keys do not share one.
	NoSlot = -1
)

var (
	// ErrNoKeys is returned when a co-location check is given no keys.
	ErrNoKeys = errors.New("at least one key is required")

	// ErrNilKey is returned by decoding boundaries that receive a missing key.
	ErrNilKey = errors.New("key must not be null")
)

// Assignment is the slot analysis of a single key.
type Assignment struct {
	Key        string `json:"key" yaml:"key"`
	HashTag    string `json:"hash_tag,omitempty" yaml:"hash_tag,omitempty"`
	Slot       int    `json:"slot" yaml:"slot"`
	HasHashTag bool   `json:"has_hash_tag" yaml:"has_hash_tag"`
}

// CoLocation is the result of checking whether a group of keys shares a slot.
// HashTag is the first key's tag, reported whether or not the others share it.
type CoLocation struct {
	HashTag    string   `json:"hash_tag,omitempty" yaml:"hash_tag,omitempty"`
	Keys       []string `json:"keys" yaml:"keys"`
	Slot       int      `json:"slot" yaml:"slot"`
	HasHashTag bool     `json:"has_hash_tag" yaml:"has_hash_tag"`
	SameSlot   bool     `json:"same_slot" yaml:"same_slot"`
}

// HashTag extracts the hash tag of key: the text between the first '{' and the
// first '}' after it. It reports false when there is no '{', no closing '}', or
// the braces are empty.
func HashTag(key string) (string, bool) {
	open := strings.IndexByte(key, '{')
	if open < 0 {
		return "", false
	}
	closing := strings.IndexByte(key[open+1:], '}')
	if closing <= 0 {
		// -1: no closing brace, 0: "{}"
		return "", false
	}
	return key[open+1 : open+1+closing], true
}

// KeySlot returns the hash slot of key.
func KeySlot(key string) int {
	if tag, ok := HashTag(key); ok {
		key = tag
	}
	return int(checksumString(key)) % NumSlots
}

// Valid reports whether s is a slot number in [0, MaxSlot].
func Valid(s int) bool {
	return s >= 0 && s <= MaxSlot
}

// AnalyzeKey returns the slot and hash tag of key.
func AnalyzeKey(key string) Assignment {
	tag, ok := HashTag(key)
	return Assignment{
		Key:        key,
		Slot:       KeySlot(key),
		HashTag:    tag,
		HasHashTag: ok,
	}
}

// AnalyzeKeys checks whether all keys map to the same slot. The first key is
// the baseline and the scan stops at the first mismatch. Slot is NoSlot unless
// every key matched.
func AnalyzeKeys(keys []string) (CoLocation, error) {
	if len(keys) == 0 {
		return CoLocation{}, ErrNoKeys
	}

	first := AnalyzeKey(keys[0])
	result := CoLocation{
		Keys:       append([]string(nil), keys...),
		HashTag:    first.HashTag,
		HasHashTag: first.HasHashTag,
		SameSlot:   true,
		Slot:       first.Slot,
	}

	for _, key := range keys[1:] {
		if KeySlot(key) != first.Slot {
			result.SameSlot = false
			result.Slot = NoSlot
			break
		}
	}

	return result, nil
}

// GroupBySlot splits keys by slot. Keys keep their input order within a group.
func GroupBySlot(keys []string) map[int][]string {
	groups := make(map[int][]string)
	for _, key := range keys {
		s := KeySlot(key)
		groups[s] = append(groups[s], key)
	}
	return groups
}
