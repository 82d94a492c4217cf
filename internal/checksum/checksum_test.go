package checksum

import "testing"

func TestText_IgnoresLineEndings(t *testing.T) {
	if Text("a\r\nb") != Text("a\nb") {
		t.Error("CRLF and LF text differ")
	}
	if Text("a") == Text("b") {
		t.Error("different text, same digest")
	}
	if len(Sum(nil)) != 64 {
		t.Errorf("digest length = %d", len(Sum(nil)))
	}
}
