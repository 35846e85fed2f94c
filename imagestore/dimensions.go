package imagestore

// SameDimensions reports whether a and b have equal width and height.
// A nil side never matches.
func SameDimensions(a, b *Metadata) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Width == b.Width && a.Height == b.Height
}
