package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSeed generates a cryptographically secure random seed for image generation.
// Returns a value in [0, MaxSeed] so that Seed+i stays positive for any batch.
// This function uses crypto/rand for security.
func RandomSeed() int64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// Fallback to a fixed seed if crypto/rand fails (extremely rare)
		// This is better than panicking in production
		return 42
	}

	// Clear the sign bit, then fold into range
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed > MaxSeed {
		seed -= MaxSeed + 1
	}
	return seed
}

// ResolveSeed returns seed unchanged unless it is RandomSeedValue,
// in which case a fresh RandomSeed is drawn.
func ResolveSeed(seed int64) int64 {
	if seed == RandomSeedValue {
		return RandomSeed()
	}
	return seed
}
