package klist

import "testing"

func TestInsertOrderedByPriorityFIFOTies(t *testing.T) {
	type item struct {
		name string
		pri  int
	}
	l := New[item](func(a, b item) bool { return a.pri > b.pri })

	l.Insert(item{"low", 10})
	l.Insert(item{"high", 40})
	l.Insert(item{"mid-a", 20})
	l.Insert(item{"mid-b", 20})

	got := l.ToSlice()
	want := []string{"high", "mid-a", "mid-b", "low"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].name != w {
			t.Fatalf("index %d: got %s want %s", i, got[i].name, w)
		}
	}
}

func TestPopFrontAndLen(t *testing.T) {
	l := New[int](func(a, b int) bool { return a > b })
	l.Insert(3)
	l.Insert(1)
	l.Insert(2)
	if l.Len() != 3 {
		t.Fatalf("len=%d", l.Len())
	}
	v, ok := l.PopFront()
	if !ok || v != 3 {
		t.Fatalf("got %d,%v want 3,true", v, ok)
	}
	if l.Len() != 2 {
		t.Fatalf("len=%d", l.Len())
	}
}

func TestRemoveFunc(t *testing.T) {
	l := New[int](func(a, b int) bool { return a > b })
	for _, v := range []int{5, 4, 3, 2, 1} {
		l.Insert(v)
	}
	v, ok := l.RemoveFunc(func(x int) bool { return x == 3 })
	if !ok || v != 3 {
		t.Fatalf("remove 3: got %d,%v", v, ok)
	}
	if l.Len() != 4 {
		t.Fatalf("len=%d want 4", l.Len())
	}
	got := l.ToSlice()
	for _, x := range got {
		if x == 3 {
			t.Fatalf("3 still present: %v", got)
		}
	}
}

func TestPopAllFunc(t *testing.T) {
	l := New[int](func(a, b int) bool { return a > b })
	for _, v := range []int{1, 2, 3, 4, 5} {
		l.Insert(v)
	}
	popped := l.PopAllFunc(func(x int) bool { return x%2 == 0 })
	if len(popped) != 2 {
		t.Fatalf("popped=%v", popped)
	}
	if l.Len() != 3 {
		t.Fatalf("remaining len=%d", l.Len())
	}
}

func TestEmptyList(t *testing.T) {
	l := New[int](func(a, b int) bool { return a > b })
	if !l.Empty() {
		t.Fatal("new list should be empty")
	}
	if _, ok := l.PopFront(); ok {
		t.Fatal("pop on empty should fail")
	}
}
