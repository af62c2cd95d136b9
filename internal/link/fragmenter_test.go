package link

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type FragmenterTestSuite struct {
	suite.Suite

	handles HandleSet
}

func (suite *FragmenterTestSuite) SetupTest() {
	suite.handles = HandleSet{Control: 0x0024}
	suite.handles.SetBody(0x0026)
}

// drain runs the fragmenter to completion, acknowledging every write.
func (suite *FragmenterTestSuite) drain(f *Fragmenter) []Write {
	var writes []Write
	for i := 0; i < 1000; i++ {
		w, ok := f.Next()
		if !ok {
			return writes
		}
		writes = append(writes, w)
	}
	suite.FailNow("fragmenter MUST terminate")
	return nil
}

func (suite *FragmenterTestSuite) TestIterationCount() {
	// GOAL: Verify a buffer of length L takes exactly ceil(L/18)+2 writes
	//
	// TEST SCENARIO: Drain buffers of several lengths → count writes → matches formula

	tests := []struct {
		length int
		writes int
	}{
		{length: 0, writes: 2},
		{length: 1, writes: 3},
		{length: 18, writes: 3},
		{length: 19, writes: 4},
		{length: 180, writes: 12},
	}

	for _, tt := range tests {
		suite.Run(fmt.Sprintf("L=%d", tt.length), func() {
			f := NewFragmenter(0)
			f.Reset(bytes.Repeat([]byte{'x'}, tt.length), suite.handles)

			writes := suite.drain(f)
			suite.Len(writes, tt.writes, "write count MUST be ceil(L/18)+2")
			suite.Equal(tt.writes, f.Writes(tt.length), "Writes MUST predict the sequence length")
			suite.True(f.Done(), "fragmenter MUST be done after the execute write")
		})
	}
}

func (suite *FragmenterTestSuite) TestSequenceShape() {
	// GOAL: Verify enable, prepare and execute writes target the right handles
	//
	// TEST SCENARIO: Drain a 40-byte buffer → first write enables notifications → prepares
	// cover the buffer in 18-byte slices → last write commits

	data := bytes.Repeat([]byte("0123456789"), 4)
	f := NewFragmenter(0)
	f.Reset(data, suite.handles)
	writes := suite.drain(f)
	suite.Require().Len(writes, 5)

	first := writes[0]
	suite.Equal(WriteRequest, first.Op, "first write MUST be a plain write request")
	suite.Equal(uint16(0x0027), first.Handle, "first write MUST target body+1")
	suite.Equal([]byte{0x01, 0x00}, first.Data, "first write MUST enable notifications")

	last := writes[len(writes)-1]
	suite.Equal(WriteExecute, last.Op)
	suite.Equal(suite.handles.Control, last.Handle)
	suite.Equal(ExecuteCommit, last.Flags, "execute MUST commit the queued writes")

	var sizes []int
	for _, w := range writes[1 : len(writes)-1] {
		suite.Equal(WritePrepare, w.Op)
		suite.Equal(suite.handles.Control, w.Handle, "fragments MUST target the control characteristic")
		sizes = append(sizes, len(w.Data))
	}
	suite.Equal([]int{18, 18, 4}, sizes)
}

func (suite *FragmenterTestSuite) TestEmptyBufferSkipsPrepare() {
	// GOAL: Verify an empty request goes straight from enable to execute
	//
	// TEST SCENARIO: Drain zero-length buffer → enable write → execute write → no prepare

	f := NewFragmenter(0)
	f.Reset(nil, suite.handles)
	writes := suite.drain(f)

	suite.Require().Len(writes, 2)
	suite.Equal(WriteRequest, writes[0].Op)
	suite.Equal(WriteExecute, writes[1].Op)
}

func (suite *FragmenterTestSuite) TestOffsetsMonotonicAndReassemble() {
	// GOAL: Verify fragments never overlap, never exceed the cap and rebuild the buffer
	//
	// TEST SCENARIO: Drain buffers with several caps → offsets strictly increase by the
	// previous fragment length → concatenation equals the input

	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i)
	}

	for _, size := range []int{1, 7, 18, 20, 512} {
		suite.Run(fmt.Sprintf("cap=%d", size), func() {
			f := NewFragmenter(size)
			f.Reset(data, suite.handles)

			var rebuilt []byte
			next := 0
			for _, w := range suite.drain(f) {
				if w.Op != WritePrepare {
					continue
				}
				suite.Equal(next, w.Offset, "fragment offset MUST continue the previous fragment")
				suite.LessOrEqual(len(w.Data), size, "fragment MUST NOT exceed the cap")
				suite.NotEmpty(w.Data, "fragment MUST carry data")
				rebuilt = append(rebuilt, w.Data...)
				next += len(w.Data)
			}
			suite.Equal(data, rebuilt, "fragments MUST reassemble into the request")
			suite.Equal(len(data), f.Offset())
		})
	}
}

func (suite *FragmenterTestSuite) TestNextAfterDoneIsNoop() {
	f := NewFragmenter(0)
	_, ok := f.Next()
	suite.False(ok, "a fresh fragmenter MUST have nothing to write")

	f.Reset([]byte("GET / HTTP/1.1\r\n\r\n"), suite.handles)
	suite.drain(f)
	_, ok = f.Next()
	suite.False(ok, "Next after the execute write MUST be a no-op")
	suite.Equal(StepDone, f.State())
}

func TestFragmenterTestSuite(t *testing.T) {
	suite.Run(t, new(FragmenterTestSuite))
}
