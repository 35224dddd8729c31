package gitgw

// SizeBucket buckets a diff's total changed line count into the
// XS/S/M/L/XL scale used for session listings.
func SizeBucket(added, removed int) string {
	total := added + removed
	switch {
	case total == 0:
		return "XS"
	case total <= 20:
		return "S"
	case total <= 100:
		return "M"
	case total <= 500:
		return "L"
	default:
		return "XL"
	}
}
