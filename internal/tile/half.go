package tile

import "math"

// Преобразование float64 <-> половинная точность (IEEE 754 binary16).
// Используется бинарным кодеком записей для вторичных полей (смещения,
// сдвиг UV), где 11 бит мантиссы достаточно.

func halfFromFloat(f float64) uint16 {
	b := math.Float32bits(float32(f))
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23&0xFF) - 127 + 15
	mant := b & 0x7FFFFF

	switch {
	case exp >= 31:
		// переполнение -> бесконечность
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		// денормализованное число
		mant |= 0x800000
		return sign | uint16(mant>>uint32(14-exp))
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

func halfToFloat(h uint16) float64 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1F)
	mant := uint32(h & 0x3FF)

	var b uint32
	switch {
	case exp == 0:
		if mant == 0 {
			b = sign
		} else {
			// нормализуем денормализованное число
			e := uint32(113) // 127 - 15 + 1
			for mant&0x400 == 0 {
				mant <<= 1
				e--
			}
			mant &^= 0x400
			b = sign | e<<23 | mant<<13
		}
	case exp == 0x1F:
		b = sign | 0x7F800000 | mant<<13
	default:
		b = sign | (exp-15+127)<<23 | mant<<13
	}
	return float64(math.Float32frombits(b))
}
