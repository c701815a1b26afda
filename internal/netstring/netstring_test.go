package netstring

import (
	"reflect"
	"testing"
)

func TestScanLen(t *testing.T) {
	n, beg, ok, err := ScanLen([]byte("24:CONTENT_LENGTH\x000\x00"))
	if err != nil || !ok {
		t.Fatalf("ScanLen error=%v ok=%v", err, ok)
	}
	if n != 24 || beg != 3 {
		t.Fatalf("got n=%d beg=%d, want n=24 beg=3", n, beg)
	}
}

func TestScanLenIncomplete(t *testing.T) {
	_, _, ok, err := ScanLen([]byte("24"))
	if err != nil || ok {
		t.Fatalf("expected incomplete-not-error, got ok=%v err=%v", ok, err)
	}
}

func TestScanLenBad(t *testing.T) {
	_, _, _, err := ScanLen([]byte("2x4:"))
	if err == nil {
		t.Fatal("expected error for non-digit length prefix")
	}
}

func TestParseHeaders(t *testing.T) {
	block := []byte("CONTENT_LENGTH\x000\x00SCGI\x001\x00")
	headers, err := ParseHeaders(block)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"CONTENT_LENGTH": "0", "SCGI": "1"}
	if !reflect.DeepEqual(headers, want) {
		t.Fatalf("got %v, want %v", headers, want)
	}
}

func TestParseHeadersUppercasesNames(t *testing.T) {
	block := []byte("content_length\x000\x00")
	headers, err := ParseHeaders(block)
	if err != nil {
		t.Fatal(err)
	}
	if headers["CONTENT_LENGTH"] != "0" {
		t.Fatalf("expected uppercased name, got %v", headers)
	}
}

func TestParseHeadersOddFields(t *testing.T) {
	block := []byte("CONTENT_LENGTH\x000\x00DANGLING\x00")
	if _, err := ParseHeaders(block); err == nil {
		t.Fatal("expected error for odd number of fields")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	headers := map[string]string{
		"CONTENT_LENGTH": "5",
		"SCGI":           "1",
		"REQUEST_METHOD": "GET",
	}
	body := []byte("hello")
	order := []string{"SCGI", "REQUEST_METHOD"}

	encoded := Encode(order, headers, body)

	n, beg, ok, err := ScanLen(encoded)
	if err != nil || !ok {
		t.Fatalf("ScanLen: ok=%v err=%v", ok, err)
	}
	block := encoded[beg : beg+n]
	got, err := ParseHeaders(block)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, headers) {
		t.Fatalf("got %v, want %v", got, headers)
	}
	bodyBeg := beg + n + 1 // skip comma
	gotBody := encoded[bodyBeg:]
	if string(gotBody) != string(body) {
		t.Fatalf("got body %q, want %q", gotBody, body)
	}
}

func TestParseHeadersEmptyBlock(t *testing.T) {
	headers, err := ParseHeaders(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(headers) != 0 {
		t.Fatalf("expected empty map, got %v", headers)
	}
}
