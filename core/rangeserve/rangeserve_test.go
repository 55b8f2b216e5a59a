package rangeserve

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 10
	cases := []struct {
		header  string
		want    Range
		wantErr bool
	}{
		{"bytes=0-4", Range{0, 4}, false},
		{"bytes=5-", Range{5, 9}, false},
		{"bytes=9-9", Range{9, 9}, false},
		{"BYTES=0-9", Range{0, 9}, false},
		{"bytes=0-10", Range{}, true},
		{"bytes=5-4", Range{}, true},
		{"bytes=10-", Range{}, true},
		{"bytes=-4", Range{}, true},
		{"bytes=a-4", Range{}, true},
		{"bytes=0-b", Range{}, true},
		{"bytes=+1-4", Range{}, true},
		{"bytes=0-1,3-4", Range{}, true},
		{"items=0-4", Range{}, true},
		{"bytes=4", Range{}, true},
	}
	for _, tc := range cases {
		got, err := ParseRange(tc.header, size)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsatisfiable) {
				t.Fatalf("%q: expected ErrUnsatisfiable, got %v (%+v)", tc.header, err, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.header, got, tc.want)
		}
	}
}

func TestParseRangeEmptyFile(t *testing.T) {
	if _, err := ParseRange("bytes=0-", 0); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected unsatisfiable range on empty file, got %v", err)
	}
}

func TestNewPlanPartial(t *testing.T) {
	plan, err := NewPlan("bytes=0-4", 10)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Status != 206 {
		t.Fatalf("expected 206, got %d", plan.Status)
	}
	want := map[string]string{
		"Content-Range":  "bytes 0-4/10",
		"Accept-Ranges":  "bytes",
		"Content-Length": "5",
	}
	for k, v := range want {
		if plan.Headers[k] != v {
			t.Fatalf("header %s = %q, want %q", k, plan.Headers[k], v)
		}
	}
}

func TestNewPlanWholeFile(t *testing.T) {
	plan, err := NewPlan("", 10)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Status != 200 || plan.Range != (Range{0, 9}) {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Headers["Accept-Ranges"] != "bytes" || plan.Headers["Content-Length"] != "10" {
		t.Fatalf("unexpected headers %v", plan.Headers)
	}
}

func TestNewPlanUnsatisfiable(t *testing.T) {
	plan, err := NewPlan("bytes=3-1", 10)
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected ErrUnsatisfiable, got %v", err)
	}
	if plan.Status != 416 || plan.Headers["Content-Range"] != "bytes */10" {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestCopyMatchesSourceSlice(t *testing.T) {
	src := make([]byte, 200_000)
	for i := range src {
		src[i] = byte(i * 7)
	}
	reader := bytes.NewReader(src)
	size := int64(len(src))

	ranges := []Range{{0, 0}, {0, 4}, {10, 99_999}, {size - 1, size - 1}, {0, size - 1}, {65_535, 65_537}}
	for _, r := range ranges {
		var out bytes.Buffer
		n, err := Copy(context.Background(), &out, reader, r)
		if err != nil {
			t.Fatalf("Copy(%+v): %v", r, err)
		}
		if n != r.Length() || int64(out.Len()) != r.End-r.Start+1 {
			t.Fatalf("Copy(%+v) wrote %d bytes", r, n)
		}
		if !bytes.Equal(out.Bytes(), src[r.Start:r.End+1]) {
			t.Fatalf("Copy(%+v) bytes differ from source", r)
		}
	}
}

func TestCopyIsRepeatable(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789"))
	r := Range{2, 6}
	var a, b bytes.Buffer
	if _, err := Copy(context.Background(), &a, src, r); err != nil {
		t.Fatal(err)
	}
	if _, err := Copy(context.Background(), &b, src, r); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() || a.String() != "23456" {
		t.Fatalf("got %q and %q", a.String(), b.String())
	}
}

func TestCopyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	n, err := Copy(ctx, &out, bytes.NewReader(make([]byte, 1024)), Range{0, 1023})
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("expected cancellation before any write, got n=%d err=%v", n, err)
	}
}

type cancelAfterWrite struct {
	cancel context.CancelFunc
	bytes.Buffer
}

func (c *cancelAfterWrite) Write(p []byte) (int, error) {
	c.cancel()
	return c.Buffer.Write(p)
}

func TestCopyStopsMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dst := &cancelAfterWrite{cancel: cancel}
	size := int64(copyChunk * 4)

	n, err := Copy(ctx, dst, bytes.NewReader(make([]byte, size)), Range{0, size - 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != copyChunk {
		t.Fatalf("expected exactly one chunk before stopping, got %d", n)
	}
}
