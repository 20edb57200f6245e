package gotrack

// flags is a bitset over property ordinals.
type flags []uint64

func newFlags(n int) flags {
	return make(flags, (n+63)/64)
}

func (f flags) get(i int) bool {
	return f[i/64]&(1<<(uint(i)%64)) != 0
}

func (f flags) set(i int, on bool) {
	if on {
		f[i/64] |= 1 << (uint(i) % 64)
		return
	}
	f[i/64] &^= 1 << (uint(i) % 64)
}

func (f flags) any() bool {
	for _, w := range f {
		if w != 0 {
			return true
		}
	}
	return false
}

func (f flags) reset() {
	for i := range f {
		f[i] = 0
	}
}
