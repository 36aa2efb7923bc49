package extract

// Kind discriminates the polymorphic label shapes a judge can return.
type Kind int

const (
	KindNumber Kind = iota
	KindNumbers
	KindText
)

// Value is a judge label: a single number, an ordered list of numbers, or
// free text (chat-style judges whose whole reply is the label).
type Value struct {
	kind Kind
	num  float64
	nums []float64
	text string
}

func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

func Numbers(fs []float64) Value {
	return Value{kind: KindNumbers, nums: fs}
}

func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

func (v Value) Kind() Kind {
	return v.kind
}

// IsList reports whether the label carries multiple numbers.
func (v Value) IsList() bool {
	return v.kind == KindNumbers
}

// Len returns the number of scalar values carried.
func (v Value) Len() int {
	if v.kind == KindNumbers {
		return len(v.nums)
	}

	return 1
}

// At returns the i-th scalar as a cell value, rendering whole floats as ints.
// For non-list labels every index yields the single value.
func (v Value) At(i int) any {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumbers:
		if i < 0 || i >= len(v.nums) {
			i = 0
		}

		return Normalize(v.nums[i])
	default:
		return Normalize(v.num)
	}
}
