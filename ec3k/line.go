package ec3k

// Symbol recovers the NRZI symbol at index i of a level row: 1 when the level
// holds over the bit period, 0 when it changes. The level before the row is
// taken to be 0.
func Symbol(bits []byte, i int) byte {
	var prev byte
	if i > 0 {
		prev = bits[i-1] & 1
	}

	if bits[i]&1 == prev {
		return 1
	}
	return 0
}

// Descramble undoes the transmitter's self-synchronizing scrambler, taps at 12
// and 17. Output below index 17 depends on symbols sent before the scrambler
// settled and is meaningless.
func Descramble(bits []byte, i int) byte {
	out := Symbol(bits, i)
	if i > 12 {
		out ^= Symbol(bits, i-12)
	}
	if i > 17 {
		out ^= Symbol(bits, i-17)
	}
	return out
}
