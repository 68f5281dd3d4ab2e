package upload

// Bitmap is a growable bit-set, one bit per chunk. Bit n lives in byte n/8 at
// position n%8.
type Bitmap []byte

// Get reports whether bit n is set. Indices beyond the storage are unset.
func (b Bitmap) Get(n int) bool {
	byteIdx := n / 8
	if n < 0 || byteIdx >= len(b) {
		return false
	}
	return b[byteIdx]&(1<<(n%8)) != 0
}

// Set sets bit n, growing the storage as needed. Negative indices are
// ignored.
func (b *Bitmap) Set(n int) {
	if n < 0 {
		return
	}
	byteIdx := n / 8
	if byteIdx >= len(*b) {
		grown := make(Bitmap, byteIdx+1)
		copy(grown, *b)
		*b = grown
	}
	(*b)[byteIdx] |= 1 << (n % 8)
}

// AllSetBelow reports whether every bit in [0, n) is set. It is false for
// n == 0: an empty prefix is never considered filled.
func (b Bitmap) AllSetBelow(n int) bool {
	if n <= 0 {
		return false
	}
	last := n - 1
	lastByte := last / 8
	if lastByte >= len(b) {
		return false
	}
	for _, v := range b[:lastByte] {
		if v != 0xFF {
			return false
		}
	}
	mask := byte(1<<(last%8+1) - 1)
	return b[lastByte]&mask == mask
}

// FirstUnset returns the smallest unset index. A fully dense bitmap yields
// len(b)*8, one past the current capacity.
func (b Bitmap) FirstUnset() int {
	for i, v := range b {
		if v == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if v&(1<<bit) == 0 {
				return i*8 + bit
			}
		}
	}
	return len(b) * 8
}

// TruncateTo keeps bits [0, n] and clears everything above n. Trailing zero
// bytes are dropped afterwards so the storage stays minimal.
func (b *Bitmap) TruncateTo(n int) {
	if n < 0 {
		*b = (*b)[:0]
		return
	}
	byteIdx := n / 8
	if byteIdx < len(*b) {
		*b = (*b)[:byteIdx+1]
		(*b)[byteIdx] &= byte(1<<(n%8+1) - 1)
	}
	end := len(*b)
	for end > 0 && (*b)[end-1] == 0 {
		end--
	}
	*b = (*b)[:end]
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	count := 0
	for _, v := range b {
		for ; v != 0; v &= v - 1 {
			count++
		}
	}
	return count
}
