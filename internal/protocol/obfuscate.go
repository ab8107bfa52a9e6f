package protocol

import "math/bits"

// obfuscationKey is shared with the game client.
var obfuscationKey = []byte("tincat")

// Obfuscate scrambles a credential field. Each byte is XORed with the key
// and rotated left by 1..7 bits depending on its position.
func Obfuscate(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		x := b ^ obfuscationKey[i%len(obfuscationKey)]
		out[i] = bits.RotateLeft8(x, i%7+1)
	}
	return out
}

// Deobfuscate reverses Obfuscate.
func Deobfuscate(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		x := bits.RotateLeft8(b, -(i%7 + 1))
		out[i] = x ^ obfuscationKey[i%len(obfuscationKey)]
	}
	return out
}
