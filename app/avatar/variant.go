package avatar

// Variant is one of the fixed avatar sizes served by the remote service
type Variant int

const (
	Mini Variant = iota
	Normal
	Bigger
)

// Variants lists every size in fetch order
var Variants = []Variant{Mini, Normal, Bigger}

func (v Variant) String() string {
	switch v {
	case Mini:
		return "mini"
	case Normal:
		return "normal"
	case Bigger:
		return "bigger"
	default:
		return "unknown"
	}
}

// Size returns the square edge length in pixels
func (v Variant) Size() int {
	switch v {
	case Mini:
		return 24
	case Normal:
		return 48
	case Bigger:
		return 73
	default:
		return 0
	}
}
