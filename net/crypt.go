package net

import "math/rand/v2"

// Cryptography obfuscates inbound payloads once a session has a seed.
type Cryptography interface {
	GenerateSeed() uint16
	// Xor transforms payload in place and returns the seed for the next payload.
	Xor(payload []byte, seed uint16) uint16
}

// XorCryptography is the rolling XOR cipher spoken by the game client. Each byte is
// mixed with both halves of the seed, which then steps through a full period 16-bit LCG.
type XorCryptography struct{}

const (
	seedMultiplier = 0x6255
	seedIncrement  = 0x3619
)

func (XorCryptography) GenerateSeed() uint16 {
	return uint16(rand.UintN(1 << 16))
}

func (XorCryptography) Xor(payload []byte, seed uint16) uint16 {
	for i := range payload {
		payload[i] ^= byte(seed ^ seed>>8)
		seed = seed*seedMultiplier + seedIncrement
	}
	return seed
}
