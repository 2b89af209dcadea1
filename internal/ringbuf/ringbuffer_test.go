package ringbuf

import "testing"

func TestBuffer_BasicOperations(t *testing.T) {
	rb := New[int](4)

	if !rb.Empty() {
		t.Error("new buffer should be empty")
	}
	if rb.Len() != 0 {
		t.Errorf("empty buffer length should be 0, got %d", rb.Len())
	}

	rb.Push(1)
	rb.Push(2)
	rb.Push(3)

	if rb.Empty() {
		t.Error("buffer should not be empty after pushes")
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3, got %d", rb.Len())
	}

	val, ok := rb.Pop()
	if !ok || val != 1 {
		t.Errorf("expected Pop to return 1, got %d", val)
	}
	if rb.Len() != 2 {
		t.Errorf("expected length 2 after pop, got %d", rb.Len())
	}

	peekVal, ok := rb.Peek()
	if !ok || *peekVal != 2 {
		t.Errorf("expected Peek to return 2, got %d", *peekVal)
	}
	if rb.Len() != 2 {
		t.Errorf("peek must not consume, expected length 2, got %d", rb.Len())
	}
}

func TestBuffer_FullAndGrow(t *testing.T) {
	rb := New[int](2)

	rb.Push(1)
	rb.Push(2)

	if !rb.Full() {
		t.Error("buffer should be full")
	}
	if rb.MaxLen() != 2 {
		t.Errorf("expected max length 2, got %d", rb.MaxLen())
	}

	rb.Push(3) // triggers grow

	if rb.Full() {
		t.Error("buffer should not be full after grow")
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3 after grow, got %d", rb.Len())
	}
}

func TestBuffer_EmptyOperations(t *testing.T) {
	rb := New[int](4)

	if _, ok := rb.Pop(); ok {
		t.Error("pop on empty buffer should return false")
	}
	if _, ok := rb.Peek(); ok {
		t.Error("peek on empty buffer should return false")
	}
}

func TestBuffer_ForEach(t *testing.T) {
	rb := New[int](10)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	var result []int
	rb.ForEach(func(val *int) bool {
		result = append(result, *val)
		return true
	})
	expected := []int{1, 2, 3, 4, 5}
	if len(result) != len(expected) {
		t.Fatalf("expected %d elements, got %d", len(expected), len(result))
	}
	for i, v := range result {
		if v != expected[i] {
			t.Errorf("position %d: expected %d, got %d", i, expected[i], v)
		}
	}

	var partial []int
	rb.ForEach(func(val *int) bool {
		partial = append(partial, *val)
		return *val < 3
	})
	if len(partial) != 3 {
		t.Errorf("expected early stop at 3 elements, got %d", len(partial))
	}
}

func TestBuffer_Discard(t *testing.T) {
	rb := New[int](10)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	if d := rb.Discard(2); d != 2 {
		t.Errorf("expected to discard 2, discarded %d", d)
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3 after discard, got %d", rb.Len())
	}
	val, ok := rb.Pop()
	if !ok || val != 3 {
		t.Errorf("expected next element 3, got %d", val)
	}

	if d := rb.Discard(10); d != 2 {
		t.Errorf("expected to discard remaining 2, discarded %d", d)
	}
	if !rb.Empty() {
		t.Error("buffer should be empty after discarding everything")
	}
	if d := rb.Discard(5); d != 0 {
		t.Errorf("discard on empty buffer should return 0, got %d", d)
	}
}

func TestBuffer_Wraparound(t *testing.T) {
	rb := New[int](4)
	for i := 1; i <= 4; i++ {
		rb.Push(i)
	}
	rb.Pop()
	rb.Pop()
	rb.Push(5)
	rb.Push(6)
	rb.Push(7)

	expected := []int{3, 4, 5, 6, 7}
	for _, exp := range expected {
		val, ok := rb.Pop()
		if !ok || val != exp {
			t.Errorf("wraparound mismatch: expected %d, got %d", exp, val)
		}
	}
}
