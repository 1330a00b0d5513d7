package param

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
)

type fakeStore struct {
	objects map[string][]byte
	next    int
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (s *fakeStore) WriteObject(_ context.Context, data []byte, mimeType, organizationID, executionID string) (model.ObjectReference, error) {
	s.next++
	id := organizationID + "/" + executionID + "/" + string(rune('a'+s.next))
	s.objects[id] = data
	return model.ObjectReference{ID: id, MimeType: mimeType}, nil
}

func (s *fakeStore) ReadObject(_ context.Context, ref model.ObjectReference) ([]byte, objectstore.ObjectMetadata, error) {
	data, ok := s.objects[ref.ID]
	if !ok {
		return nil, objectstore.ObjectMetadata{}, errors.New("not found")
	}
	return data, objectstore.ObjectMetadata{}, nil
}

func TestToWire_Scalar(t *testing.T) {
	store := newFakeStore()
	wv, err := ToWire(context.Background(), model.TypeString, EngineValue{Raw: "hello"}, store, "org1", "exec1")
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	if wv.Raw != "hello" || wv.Ref != nil {
		t.Fatalf("unexpected wire value: %+v", wv)
	}
}

func TestToWire_ScalarTypeMismatch(t *testing.T) {
	store := newFakeStore()
	_, err := ToWire(context.Background(), model.TypeString, EngineValue{Raw: 42}, store, "org1", "exec1")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestToWire_BinaryWritesThroughStore(t *testing.T) {
	store := newFakeStore()
	wv, err := ToWire(context.Background(), model.TypeImage, EngineValue{Data: []byte("png-bytes"), MimeType: "image/png"}, store, "org1", "exec1")
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	if wv.Ref == nil {
		t.Fatal("expected a reference for a binary value")
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(store.objects))
	}
}

func TestToWire_BinaryMissingDataAndRef(t *testing.T) {
	store := newFakeStore()
	_, err := ToWire(context.Background(), model.TypeImage, EngineValue{}, store, "org1", "exec1")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestToWire_BinaryPassThroughRefNoDuplication(t *testing.T) {
	store := newFakeStore()
	ref := model.ObjectReference{ID: "existing", MimeType: "image/png"}
	wv, err := ToWire(context.Background(), model.TypeImage, Ref(model.TypeImage, ref), store, "org1", "exec1")
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	if wv.Ref == nil || wv.Ref.ID != "existing" {
		t.Fatalf("expected pass-through reference, got %+v", wv.Ref)
	}
	if len(store.objects) != 0 {
		t.Fatalf("expected no new object written, got %d", len(store.objects))
	}
}

func TestFromWire_Scalar(t *testing.T) {
	store := newFakeStore()
	ev, err := FromWire(context.Background(), model.TypeNumber, WireValue{Raw: float64(7)}, store)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if ev.Raw != float64(7) {
		t.Fatalf("unexpected engine value: %+v", ev)
	}
}

func TestFromWire_BinaryReadsStore(t *testing.T) {
	store := newFakeStore()
	ref, err := store.WriteObject(context.Background(), []byte("bytes"), "application/octet-stream", "org1", "exec1")
	if err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	ev, err := FromWire(context.Background(), model.TypeDocument, WireValue{Ref: &ref}, store)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if string(ev.Data) != "bytes" {
		t.Fatalf("expected data round-trip, got %q", ev.Data)
	}
}

func TestFromWire_BinaryMissingRef(t *testing.T) {
	store := newFakeStore()
	_, err := FromWire(context.Background(), model.TypeDocument, WireValue{}, store)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestCheckScalar_AnyAcceptsEverything(t *testing.T) {
	if err := checkScalar(model.TypeAny, 123); err != nil {
		t.Fatalf("expected any to accept everything, got %v", err)
	}
	if err := checkScalar(model.TypeString, nil); err != nil {
		t.Fatalf("expected nil to be accepted regardless of type, got %v", err)
	}
}

func TestCheckScalar_NumberAcceptsNumericKinds(t *testing.T) {
	for _, v := range []any{float64(1), float32(1), int(1), int32(1), int64(1)} {
		if err := checkScalar(model.TypeNumber, v); err != nil {
			t.Errorf("checkScalar(number, %T) = %v, want nil", v, err)
		}
	}
}
