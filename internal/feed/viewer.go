package feed

import "fmt"

// PostsCollection is the document-store collection for feed posts.
const PostsCollection = "posts"

// Viewer is the image-modal state machine for one post card: either
// Closed, or Open at an index into the post's image list. Navigation is
// circular; state never leaks across cards because each card owns its
// own Viewer.
type Viewer struct {
	images []string
	open   bool
	index  int
}

// NewViewer creates the viewer for a post's image list.
func NewViewer(images []string) *Viewer {
	return &Viewer{images: images}
}

// Open transitions Closed→Open(i) for the clicked image. The index must
// address an existing image.
func (v *Viewer) Open(i int) error {
	if i < 0 || i >= len(v.images) {
		return fmt.Errorf("image index %d out of range [0,%d)", i, len(v.images))
	}
	v.open = true
	v.index = i
	return nil
}

// Next advances to the following image, wrapping past the end.
// No-op while closed.
func (v *Viewer) Next() {
	if !v.open {
		return
	}
	v.index = (v.index + 1) % len(v.images)
}

// Prev steps to the previous image, wrapping before the start.
// No-op while closed.
func (v *Viewer) Prev() {
	if !v.open {
		return
	}
	n := len(v.images)
	v.index = (v.index - 1 + n) % n
}

// Close dismisses the modal. The index is irrelevant once closed; the
// next Open sets it fresh.
func (v *Viewer) Close() {
	v.open = false
}

// IsOpen reports whether the modal is showing.
func (v *Viewer) IsOpen() bool { return v.open }

// Index returns the currently shown image index.
func (v *Viewer) Index() int { return v.index }

// Current returns the URL of the image being shown, or "" when closed.
func (v *Viewer) Current() string {
	if !v.open || len(v.images) == 0 {
		return ""
	}
	return v.images[v.index]
}

// HasControls reports whether prev/next controls should be rendered;
// a single image needs no navigation.
func (v *Viewer) HasControls() bool {
	return len(v.images) > 1
}
