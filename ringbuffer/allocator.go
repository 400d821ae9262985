package ringbuffer

import "sync"

// blockAllocator hands out fixed-size frame buffers and recycles them.
type blockAllocator struct {
	size int
	pool sync.Pool
}

func newBlockAllocator(size int) *blockAllocator {
	a := &blockAllocator{size: size}
	a.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return a
}

// get returns a block of exactly a.size bytes. Its contents are unspecified.
func (a *blockAllocator) get() []byte {
	return *a.pool.Get().(*[]byte)
}

// put returns a block obtained from get. Nil blocks are ignored.
func (a *blockAllocator) put(b []byte) {
	if b == nil {
		return
	}
	b = b[:a.size]
	a.pool.Put(&b)
}
