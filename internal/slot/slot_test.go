package slot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceCRC16 is the bit-by-bit CRC16/XMODEM used to cross-check the table.
func referenceCRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// TestChecksum tests the table-driven CRC against known vectors
func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint16
	}{
		{name: "empty input", input: "", expected: 0x0000},
		{name: "xmodem check value", input: "123456789", expected: 0x31C3},
		{name: "single byte", input: "a", expected: 0x7C87},
		{name: "foo", input: "foo", expected: 0xAF96},
		{name: "hash tag body", input: "user:123", expected: 0x325D},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum([]byte(tt.input)))
			assert.Equal(t, tt.expected, checksumString(tt.input))
		})
	}
}

// TestChecksumMatchesBitwise tests the lookup table against the bitwise definition
func TestChecksumMatchesBitwise(t *testing.T) {
	for i := 0; i < 256; i++ {
		require.Equal(t, referenceCRC16([]byte{byte(i)}), crc16Table[i], "table entry %d", i)
	}

	inputs := []string{
		"", "x", "hello", "unicode-文字", "key with spaces",
		"\x00\xff\x80", "a-much-longer-key-that-spans-many-table-lookups:0123456789",
	}
	for _, in := range inputs {
		assert.Equal(t, referenceCRC16([]byte(in)), Checksum([]byte(in)), "input %q", in)
	}
}

// TestKeySlot tests slot numbers that a Redis cluster reports for the same keys
func TestKeySlot(t *testing.T) {
	tests := []struct {
		key      string
		expected int
	}{
		{key: "", expected: 0},
		{key: "foo", expected: 12182},
		{key: "bar", expected: 5061},
		{key: "hello", expected: 866},
		{key: "somekey", expected: 11058},
		{key: "123456789", expected: 12739},
		{key: "test-key", expected: 5139},
		{key: "user1000", expected: 3443},
		{key: "{user1000}.following", expected: 3443},
		{key: "{user1000}.followers", expected: 3443},
		{key: "{user:123}:cart", expected: 12893},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeySlot(tt.key))
		})
	}
}

// TestKeySlotDeterministicAndInRange tests determinism and the slot range
func TestKeySlotDeterministicAndInRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key:%d", i)
		s := KeySlot(key)
		require.True(t, Valid(s), "slot %d out of range for %q", s, key)
		require.Equal(t, s, KeySlot(key))
	}
}

// TestKeySlotWithoutUsableTag tests that keys without a usable tag hash in full
func TestKeySlotWithoutUsableTag(t *testing.T) {
	keys := []string{
		"user:123:cart",
		"{}:key",
		"foo{}{bar}",
		"{unterminated",
		"closing}before{",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			expected := int(referenceCRC16([]byte(key))) % NumSlots
			assert.Equal(t, expected, KeySlot(key))
		})
	}
}

// TestHashTag tests hash tag extraction
func TestHashTag(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		tag     string
		present bool
	}{
		{name: "tag at start", key: "{user:123}:cart", tag: "user:123", present: true},
		{name: "no braces", key: "user:123:cart", present: false},
		{name: "empty braces", key: "{}:key", present: false},
		{name: "tag in middle", key: "order:{42}:items", tag: "42", present: true},
		{name: "only first pair counts", key: "a{b}{c}", tag: "b", present: true},
		{name: "empty first pair hides later pair", key: "foo{}{bar}", present: false},
		{name: "nested open brace is content", key: "foo{{bar}}zap", tag: "{bar", present: true},
		{name: "closing brace before opening", key: "}x{y}", tag: "y", present: true},
		{name: "empty key", key: "", present: false},
		{name: "single open brace", key: "{", present: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := HashTag(tt.key)
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

// TestHashTagUnmatchedEqualsEmpty tests that an unmatched '{' and "{}" are
// indistinguishable to callers
func TestHashTagUnmatchedEqualsEmpty(t *testing.T) {
	unmatchedTag, unmatchedOK := HashTag("{user:123:cart")
	emptyTag, emptyOK := HashTag("{}user:123:cart")

	assert.Equal(t, emptyOK, unmatchedOK)
	assert.Equal(t, emptyTag, unmatchedTag)
	assert.False(t, unmatchedOK)
}

// TestAnalyzeKey tests packaging of a single key analysis
func TestAnalyzeKey(t *testing.T) {
	t.Run("key with tag", func(t *testing.T) {
		a := AnalyzeKey("{user:123}:cart")
		assert.Equal(t, "{user:123}:cart", a.Key)
		assert.Equal(t, "user:123", a.HashTag)
		assert.True(t, a.HasHashTag)
		assert.Equal(t, KeySlot("user:123"), a.Slot)
	})

	t.Run("key without tag", func(t *testing.T) {
		a := AnalyzeKey("user:123:cart")
		assert.Empty(t, a.HashTag)
		assert.False(t, a.HasHashTag)
		assert.Equal(t, KeySlot("user:123:cart"), a.Slot)
	})
}

// TestAnalyzeKeys tests co-location analysis
func TestAnalyzeKeys(t *testing.T) {
	t.Run("shared tag lands in one slot", func(t *testing.T) {
		keys := []string{"{user:123}:cart", "{user:123}:orders", "{user:123}:profile"}

		result, err := AnalyzeKeys(keys)
		require.NoError(t, err)

		assert.True(t, result.SameSlot)
		assert.True(t, Valid(result.Slot))
		assert.Equal(t, KeySlot("user:123"), result.Slot)
		assert.Equal(t, "user:123", result.HashTag)
		assert.True(t, result.HasHashTag)
		assert.Equal(t, keys, result.Keys)
	})

	t.Run("different slots report no slot", func(t *testing.T) {
		require.NotEqual(t, KeySlot("foo"), KeySlot("bar"))

		result, err := AnalyzeKeys([]string{"foo", "bar", "baz"})
		require.NoError(t, err)

		assert.False(t, result.SameSlot)
		assert.Equal(t, NoSlot, result.Slot)
		assert.False(t, result.HasHashTag)
	})

	t.Run("baseline tag is the first key's", func(t *testing.T) {
		result, err := AnalyzeKeys([]string{"{a}x", "{b}y"})
		require.NoError(t, err)
		assert.Equal(t, "a", result.HashTag)
	})

	t.Run("single key is trivially co-located", func(t *testing.T) {
		result, err := AnalyzeKeys([]string{"solo"})
		require.NoError(t, err)
		assert.True(t, result.SameSlot)
		assert.Equal(t, KeySlot("solo"), result.Slot)
	})

	t.Run("tagged and untagged key hashing to the same slot", func(t *testing.T) {
		result, err := AnalyzeKeys([]string{"{user1000}.following", "user1000"})
		require.NoError(t, err)
		assert.True(t, result.SameSlot)
		assert.Equal(t, 3443, result.Slot)
	})

	t.Run("empty list is rejected", func(t *testing.T) {
		_, err := AnalyzeKeys(nil)
		assert.ErrorIs(t, err, ErrNoKeys)

		_, err = AnalyzeKeys([]string{})
		assert.ErrorIs(t, err, ErrNoKeys)
	})

	t.Run("result does not alias input", func(t *testing.T) {
		keys := []string{"{x}1", "{x}2"}
		result, err := AnalyzeKeys(keys)
		require.NoError(t, err)

		keys[0] = "changed"
		assert.Equal(t, "{x}1", result.Keys[0])
	})
}

// TestGroupBySlot tests splitting keys into per-slot groups
func TestGroupBySlot(t *testing.T) {
	keys := []string{"{u1}:a", "foo", "{u1}:b", "bar", "{u1}:c"}

	groups := GroupBySlot(keys)

	assert.Equal(t, []string{"{u1}:a", "{u1}:b", "{u1}:c"}, groups[KeySlot("u1")])
	assert.Equal(t, []string{"foo"}, groups[12182])
	assert.Equal(t, []string{"bar"}, groups[5061])
	assert.Len(t, groups, 3)

	assert.Empty(t, GroupBySlot(nil))
}

// TestValid tests slot range checking
func TestValid(t *testing.T) {
	assert.True(t, Valid(0))
	assert.True(t, Valid(MaxSlot))
	assert.False(t, Valid(-1))
	assert.False(t, Valid(NumSlots))
}

// TestConcurrentKeySlot tests that concurrent callers see identical results
func TestConcurrentKeySlot(t *testing.T) {
	const goroutines = 16
	keys := make([]string, 500)
	expected := make([]int, len(keys))
	for i := range keys {
		keys[i] = fmt.Sprintf("{tenant:%d}:item:%d", i%7, i)
		expected[i] = KeySlot(keys[i])
	}

	var wg sync.WaitGroup
	errs := make(chan string, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, key := range keys {
				if got := KeySlot(key); got != expected[i] {
					errs <- fmt.Sprintf("key %q: expected %d, got %d", key, expected[i], got)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}

func BenchmarkKeySlot(b *testing.B) {
	b.Run("plain", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KeySlot("user:1234567:session")
		}
	})
	b.Run("tagged", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KeySlot("{user:1234567}:session")
		}
	})
}
