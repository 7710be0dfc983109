package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// aesCMAC implements AES-CMAC according to RFC 4493.
func aesCMAC(key, data []byte) ([16]byte, error) {
	var mac [16]byte

	block, err := aes.NewCipher(key)
	if err != nil {
		return mac, fmt.Errorf("new cipher: %w", err)
	}
	k1, k2 := generateSubkeys(block)

	var mLast [16]byte
	n := len(data)
	full := n > 0 && n%16 == 0
	numBlocks := n / 16
	if full {
		// last block is complete, xor with K1
		numBlocks--
		copy(mLast[:], data[numBlocks*16:])
		for i := range mLast {
			mLast[i] ^= k1[i]
		}
	} else {
		// pad with 0x80 0x00.., xor with K2
		copy(mLast[:], data[numBlocks*16:])
		mLast[n%16] = 0x80
		for i := range mLast {
			mLast[i] ^= k2[i]
		}
	}

	var x, y [16]byte
	for i := 0; i < numBlocks; i++ {
		for j := range y {
			y[j] = x[j] ^ data[i*16+j]
		}
		block.Encrypt(x[:], y[:])
	}
	for j := range y {
		y[j] = x[j] ^ mLast[j]
	}
	block.Encrypt(mac[:], y[:])

	return mac, nil
}

func generateSubkeys(block cipher.Block) (k1, k2 [16]byte) {
	const rb = 0x87

	var l [16]byte
	block.Encrypt(l[:], make([]byte, 16))

	k1 = leftShift(l)
	if l[0]&0x80 != 0 {
		k1[15] ^= rb
	}
	k2 = leftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}
	return k1, k2
}

func leftShift(b [16]byte) [16]byte {
	var out [16]byte
	var carry byte
	for i := 15; i >= 0; i-- {
		out[i] = b[i]<<1 | carry
		carry = b[i] >> 7
	}
	return out
}
