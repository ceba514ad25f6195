package queue

import "testing"

type prioritized struct {
	priority int
	tag      string
}

func byPriority(a, b prioritized) bool { return a.priority < b.priority }

func TestQueue_PopOrder(t *testing.T) {
	q := New(byPriority)

	priorities := []int{5, 1, 3, 1, 2}
	for i, p := range priorities {
		q.Push(prioritized{priority: p, tag: []string{"a", "b", "c", "d", "e"}[i]})
	}

	want := []prioritized{
		{1, "b"},
		{1, "d"},
		{2, "e"},
		{3, "c"},
		{5, "a"},
	}

	for i, w := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if got != w {
			t.Fatalf("pop %d: got %+v, want %+v", i, got, w)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestQueue_PopEmptyDoesNotBlock(t *testing.T) {
	q := New(byPriority)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.Pop(); ok {
			t.Error("expected empty pop to return false")
		}
	}()
	<-done
}

func TestQueue_Notify(t *testing.T) {
	q := New(byPriority)
	q.Push(prioritized{priority: 1})

	select {
	case <-q.Notify:
	default:
		t.Fatal("expected a notification after push")
	}
}

func TestQueue_EmptyAndLen(t *testing.T) {
	q := New(byPriority)
	if !q.Empty() {
		t.Fatal("expected new queue to be empty")
	}
	q.Push(prioritized{priority: 1})
	if q.Empty() {
		t.Fatal("expected non-empty queue after push")
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}
}
