// ABOUTME: Writer interleaving ICY metadata blocks into an audio byte stream
// ABOUTME: Emits a block after every metaint audio bytes, empty when the title is unchanged
package icy

import "io"

type Writer struct {
	w       io.Writer
	metaInt int
	left    int
	meta    func() string
	last    string
}

// NewWriter injects meta() every metaInt bytes. A metaInt of zero passes audio
// through untouched.
func NewWriter(w io.Writer, metaInt int, meta func() string) *Writer {
	return &Writer{w: w, metaInt: metaInt, left: metaInt, meta: meta}
}

func (iw *Writer) Write(p []byte) (int, error) {
	if iw.metaInt <= 0 {
		return iw.w.Write(p)
	}

	written := 0
	for len(p) > 0 {
		n := min(len(p), iw.left)
		m, err := iw.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
		iw.left -= n

		if iw.left == 0 {
			if _, err := iw.w.Write(iw.block()); err != nil {
				return written, err
			}
			iw.left = iw.metaInt
		}
	}
	return written, nil
}

// block repeats the text only when it changed; players keep the last title.
func (iw *Writer) block() []byte {
	text := iw.meta()
	if text == iw.last {
		return []byte{0}
	}
	iw.last = text
	return BuildBlock(text)
}
