package processing

// Number is the set of element types a RingBuffer can average.
type Number interface {
	~int | ~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// RingBuffer is a fixed-size sliding window. It is always full: it starts with
// capacity copies of the fill value and every Push evicts the oldest element.
//
// RingBuffer is not safe for concurrent use; DataSampleStore serializes access.
type RingBuffer[T Number] struct {
	data []T
	head int // index of the oldest element
}

func NewRingBuffer[T Number](capacity int, fill T) *RingBuffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	data := make([]T, capacity)
	for i := range data {
		data[i] = fill
	}
	return &RingBuffer[T]{data: data}
}

func (r *RingBuffer[T]) Push(v T) {
	if len(r.data) == 0 {
		return
	}
	r.data[r.head] = v
	r.head++
	if r.head == len(r.data) {
		r.head = 0
	}
}

func (r *RingBuffer[T]) Len() int { return len(r.data) }
func (r *RingBuffer[T]) Cap() int { return len(r.data) }

// Last returns the newest element, or the zero value for an empty buffer.
func (r *RingBuffer[T]) Last() T {
	var zero T
	if len(r.data) == 0 {
		return zero
	}
	return r.at(len(r.data) - 1)
}

// at returns the i-th element counting from the oldest.
func (r *RingBuffer[T]) at(i int) T {
	return r.data[(r.head+i)%len(r.data)]
}

// Snapshot returns the window oldest to newest.
func (r *RingBuffer[T]) Snapshot() []T {
	out := make([]T, len(r.data))
	n := copy(out, r.data[r.head:])
	copy(out[n:], r.data[:r.head])
	return out
}

func (r *RingBuffer[T]) Clone() *RingBuffer[T] {
	data := make([]T, len(r.data))
	copy(data, r.data)
	return &RingBuffer[T]{data: data, head: r.head}
}

// TailAverage is the mean of the newest min(k, capacity) elements. It returns 0
// for an empty buffer or k <= 0.
func (r *RingBuffer[T]) TailAverage(k int) float64 {
	if k > len(r.data) {
		k = len(r.data)
	}
	if k <= 0 {
		return 0
	}

	// summing offsets from the first element keeps a constant window exact
	first := len(r.data) - k
	base := float64(r.at(first))
	var sum float64
	for i := first + 1; i < len(r.data); i++ {
		sum += float64(r.at(i)) - base
	}
	return base + sum/float64(k)
}

// Max is the largest element in the window, used for plot scaling.
func (r *RingBuffer[T]) Max() T {
	var m T
	for i, v := range r.data {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}
