package conduit

import "io"

// splitBuffer implements the non-empty-buffer chunking rule of spec
// §4.7.2: ceil(len/size) slices, each at most size bytes, in order. An
// empty buffer yields nil; callers publish the single empty final chunk
// themselves in that case.
func splitBuffer(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// streamChunk is one unit produced while draining a stream source: either
// a non-final chunk of data, the final empty chunk marking clean end of
// stream, or a terminal error.
type streamChunk struct {
	Data  []byte
	Final bool
	Err   error
}

// chunkStream reads r in size-sized pieces and delivers one streamChunk
// per read to emit, implementing spec §4.7.2's stream-source rule: every
// read with data produces a non-final chunk, clean EOF produces one
// trailing empty final chunk, and a read error produces one trailing
// error chunk with no data. emit stops being called once a final or error
// chunk has been delivered.
func chunkStream(r io.Reader, size int, emit func(streamChunk)) {
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			emit(streamChunk{Data: cp})
		}
		if err == io.EOF {
			emit(streamChunk{Final: true})
			return
		}
		if err != nil {
			emit(streamChunk{Final: true, Err: err})
			return
		}
	}
}
