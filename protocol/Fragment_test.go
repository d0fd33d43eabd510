package protocol

import (
	"bytes"
	"testing"
)

func TestFragmentPassThrough(t *testing.T) {
	f := NewFragmenter(182, []byte{0, 0, 0, 1})

	frame := bytes.Repeat([]byte{7}, 100)
	frames := f.Split(frame)
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatal("small frame was fragmented")
	}
}

func TestFragmentLoop(t *testing.T) {
	// 512-byte frame at link MTU 182: chunk size 173, 3 fragments.
	f := NewFragmenter(182, []byte{0, 0, 0, 1})

	frame := make([]byte, 512)
	for n := range frame {
		frame[n] = byte(n)
	}

	frames := f.Split(frame)
	if len(frames) != 3 {
		t.Fatalf("fragment count: got %d want 3", len(frames))
	}
	for _, fragment := range frames {
		if len(fragment) > 182 {
			t.Errorf("fragment exceeds MTU: %d", len(fragment))
		}
		if !IsFragment(fragment) {
			t.Error("fragment not recognized")
		}
	}

	// Reassemble in reverse order.
	r := NewReassembler()
	for n := len(frames) - 1; n > 0; n-- {
		if out := r.Accept("dev1", frames[n]); out != nil {
			t.Fatal("premature completion")
		}
	}
	out := r.Accept("dev1", frames[0])
	if !bytes.Equal(out, frame) {
		t.Fatal("reassembled frame differs from original")
	}
	if r.Count() != 0 {
		t.Error("slot not dropped after completion")
	}
}

func TestFragmentDuplicateAndBogus(t *testing.T) {
	f := NewFragmenter(20, nil)
	frame := bytes.Repeat([]byte{3}, 40)
	frames := f.Split(frame)

	r := NewReassembler()
	r.Accept("dev1", frames[0])
	r.Accept("dev1", frames[0]) // duplicate index overwrites

	// index >= total is dropped
	bogus := make([]byte, FragmentHeaderSize+4)
	bogus[0] = FragmentMarker
	bogus[1] = 0xFF
	bogus[2] = 0xFF
	bogus[4] = 1
	if out := r.Accept("dev1", bogus); out != nil {
		t.Error("bogus fragment completed a message")
	}

	for n := 1; n < len(frames); n++ {
		if out := r.Accept("dev1", frames[n]); n == len(frames)-1 && !bytes.Equal(out, frame) {
			t.Fatal("reassembly after duplicates failed")
		}
	}
}

func TestFragmentSendersIsolated(t *testing.T) {
	f := NewFragmenter(20, nil)
	frames := f.Split(bytes.Repeat([]byte{9}, 30))

	r := NewReassembler()
	r.Accept("devA", frames[0])
	if out := r.Accept("devB", frames[1]); out != nil {
		t.Error("fragments from different senders merged")
	}
}

func TestFragmentMessageIDsUnique(t *testing.T) {
	f := NewFragmenter(20, []byte{1, 2, 3, 4})
	frame := bytes.Repeat([]byte{1}, 30)

	first := f.Split(frame)
	second := f.Split(frame)

	id1 := first[0][5:9]
	id2 := second[0][5:9]
	if bytes.Equal(id1, id2) {
		t.Error("message IDs repeat across messages")
	}
}
