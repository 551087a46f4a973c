package slicest

import (
	"reflect"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestMergeOptional(t *testing.T) {
	cases := []struct {
		name     string
		required []int
		optional []*int
		want     []int
	}{
		{
			name:     "drops absent values",
			required: []int{1, 2},
			optional: []*int{nil, ptr(3), nil},
			want:     []int{1, 2, 3},
		},
		{
			name:     "empty optional leaves required unchanged",
			required: []int{1, 2},
			optional: nil,
			want:     []int{1, 2},
		},
		{
			name:     "required precede optionals in original order",
			required: []int{5, 1},
			optional: []*int{ptr(9), nil, ptr(4)},
			want:     []int{5, 1, 9, 4},
		},
		{
			name:     "no required values",
			required: nil,
			optional: []*int{ptr(7)},
			want:     []int{7},
		},
		{
			name:     "all absent",
			required: nil,
			optional: []*int{nil, nil},
			want:     []int{},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := MergeOptional(c.required, c.optional)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("MergeOptional(%v) = %v, want %v", c.required, got, c.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if !reflect.DeepEqual(got, []int{2, 4, 6}) {
		t.Errorf("Map = %v", got)
	}
}

func TestToMap(t *testing.T) {
	got := ToMap([]string{"a", "bb"}, func(s string) (string, int) { return s, len(s) })
	if got["a"] != 1 || got["bb"] != 2 {
		t.Errorf("ToMap = %v", got)
	}
}
