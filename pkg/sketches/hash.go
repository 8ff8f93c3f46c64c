package sketches

// rowSeed is the per-row hash seed pair. bucket addresses the counter, sign
// picks the ±1 applied to it in ModeSingle.
type rowSeed struct {
	bucket uint64
	sign   uint64
}

// mix64 is the splitmix64 finalizer.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// deriveSeeds expands a master seed into one seed pair per row.
func deriveSeeds(seed uint64, depth int) []rowSeed {
	seeds := make([]rowSeed, depth)
	state := seed
	next := func() uint64 {
		state += 0x9e3779b97f4a7c15
		return mix64(state)
	}
	for i := range seeds {
		// Odd multipliers keep the multiply step a bijection on uint64.
		seeds[i] = rowSeed{bucket: next() | 1, sign: next() | 1}
	}
	return seeds
}

func (r rowSeed) hashBucket(value int64) uint64 {
	return mix64(uint64(value)*r.bucket + r.sign)
}

func (r rowSeed) hashSign(value int64) int64 {
	if mix64(uint64(value)*r.sign+r.bucket)>>63 == 0 {
		return 1
	}
	return -1
}

func hashKey(value int64) uint64 {
	return mix64(uint64(value) + 0x9e3779b97f4a7c15)
}
