package conduit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSplitBufferCeilDivision(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 25)
	chunks := splitBuffer(data, 10)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 5 {
		t.Errorf("chunk sizes = %d, %d, %d, want 10, 10, 5", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c...)
	}
	if !bytes.Equal(rebuilt, data) {
		t.Error("rebuilt chunks do not equal original data")
	}
}

func TestSplitBufferExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 20)
	chunks := splitBuffer(data, 10)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestSplitBufferEmptyReturnsNil(t *testing.T) {
	if chunks := splitBuffer(nil, 10); chunks != nil {
		t.Errorf("splitBuffer(nil, ..) = %v, want nil", chunks)
	}
	if chunks := splitBuffer([]byte{}, 10); chunks != nil {
		t.Errorf("splitBuffer([]byte{}, ..) = %v, want nil", chunks)
	}
}

func TestChunkStreamEmitsDataThenFinal(t *testing.T) {
	r := strings.NewReader("hello world, this is a stream")
	var got []streamChunk
	chunkStream(r, 8, func(c streamChunk) {
		got = append(got, c)
	})

	if len(got) == 0 {
		t.Fatal("no chunks emitted")
	}
	last := got[len(got)-1]
	if !last.Final || last.Err != nil || len(last.Data) != 0 {
		t.Errorf("final chunk = %+v, want Final=true, Err=nil, empty Data", last)
	}

	var rebuilt []byte
	for _, c := range got[:len(got)-1] {
		if c.Final {
			t.Error("non-terminal chunk unexpectedly marked Final")
		}
		rebuilt = append(rebuilt, c.Data...)
	}
	if string(rebuilt) != "hello world, this is a stream" {
		t.Errorf("rebuilt = %q, want original string", rebuilt)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestChunkStreamEmitsErrorChunkOnReadFailure(t *testing.T) {
	wantErr := errors.New("boom")
	var got []streamChunk
	chunkStream(errReader{err: wantErr}, 8, func(c streamChunk) {
		got = append(got, c)
	})

	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if !got[0].Final || !errors.Is(got[0].Err, wantErr) {
		t.Errorf("chunk = %+v, want Final=true, Err=%v", got[0], wantErr)
	}
}

func TestChunkStreamEmptyReaderProducesSingleFinalChunk(t *testing.T) {
	var got []streamChunk
	chunkStream(strings.NewReader(""), 8, func(c streamChunk) {
		got = append(got, c)
	})

	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if !got[0].Final || got[0].Err != nil || len(got[0].Data) != 0 {
		t.Errorf("chunk = %+v, want Final=true, Err=nil, empty Data", got[0])
	}
}
