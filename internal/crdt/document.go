// Package crdt implements the opaque text CRDT the CRDT Session Manager treats as a
// black box: a replicated-growable-array (RGA) document keyed by per-author op counters.
// No pack example or ecosystem library ships a text CRDT whose wire format collabrun's
// clients could decode (Yjs itself is a JS/Rust/WASM binary with no Go port in the
// example corpus) — see DESIGN.md for why this is implemented from scratch rather than
// wired to a library.
package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// OpID identifies one operation: the author that issued it and that author's per-op
// counter. The zero value is the sentinel "document start" position.
type OpID struct {
	Author  string `json:"a"`
	Counter uint64 `json:"c"`
}

func (id OpID) less(other OpID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Author < other.Author
}

type element struct {
	id      OpID
	left    OpID
	ch      rune
	deleted bool
}

// StateVector summarizes, per author, the highest op counter observed.
type StateVector map[string]uint64

// ErrEmptyUpdate is returned when ApplyUpdate receives a zero-length payload.
var ErrEmptyUpdate = errors.New("crdt: update payload is empty")

// ErrMalformedUpdate is returned when an update cannot be decoded.
var ErrMalformedUpdate = errors.New("crdt: update payload is malformed")

type wireOp struct {
	Kind   string `json:"k"`
	ID     OpID   `json:"id"`
	Left   OpID   `json:"left,omitempty"`
	Char   rune   `json:"ch,omitempty"`
	Target OpID   `json:"target,omitempty"`
}

type wireUpdate struct {
	Ops []wireOp `json:"ops"`
}

// Document is a single causally-consistent text CRDT, the in-memory unit the CRDT
// Session Manager owns per room.
type Document struct {
	mu       sync.Mutex
	elements map[OpID]*element
	children map[OpID][]OpID
	vector   StateVector
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		elements: make(map[OpID]*element),
		children: make(map[OpID][]OpID),
		vector:   make(StateVector),
	}
}

// Text returns the current "code" field content, computed from a deterministic
// left-to-right traversal of the causal tree so all replicas converge on the same
// linearization regardless of concurrent-insert application order.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Document) textLocked() string {
	var b []rune
	d.walk(OpID{}, &b)
	return string(b)
}

// walk appends visible characters in RGA order: siblings at the same left anchor are
// visited in descending (counter, author) order, which is what makes concurrent
// insertions at the same position converge identically on every replica.
func (d *Document) walk(parent OpID, out *[]rune) {
	kids := append([]OpID(nil), d.children[parent]...)
	sort.Slice(kids, func(i, j int) bool { return kids[j].less(kids[i]) })
	for _, id := range kids {
		el := d.elements[id]
		if el != nil && !el.deleted {
			*out = append(*out, el.ch)
		}
		d.walk(id, out)
	}
}

// StateVector returns a copy of the document's current per-author version summary.
func (d *Document) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make(StateVector, len(d.vector))
	for k, v := range d.vector {
		cp[k] = v
	}
	return cp
}

func (d *Document) observe(id OpID) {
	if id.Counter > d.vector[id.Author] {
		d.vector[id.Author] = id.Counter
	}
}

// ApplyUpdate validates and applies an opaque update blob. Applying the same update
// (or an update containing already-applied ops) twice is a no-op after the first
// application, since each op is keyed by a globally unique OpID.
func (d *Document) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return ErrEmptyUpdate
	}
	var wire wireUpdate
	if err := json.Unmarshal(update, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range wire.Ops {
		switch op.Kind {
		case "ins":
			if _, exists := d.elements[op.ID]; exists {
				continue
			}
			el := &element{id: op.ID, left: op.Left, ch: op.Char}
			d.elements[op.ID] = el
			d.children[op.Left] = append(d.children[op.Left], op.ID)
			d.observe(op.ID)
		case "del":
			if el, exists := d.elements[op.Target]; exists {
				el.deleted = true
			}
			d.observe(op.ID)
		default:
			return fmt.Errorf("%w: unknown op kind %q", ErrMalformedUpdate, op.Kind)
		}
	}
	return nil
}

// Encode serializes the full document state as an opaque update blob.
func (d *Document) Encode() ([]byte, error) {
	return d.EncodeDelta(nil)
}

// EncodeDelta serializes the inserts the peer (summarized by its state vector) has not
// yet observed, plus a delete op for every deleted element, since the document does not
// record which deletions a peer has seen; applying the result brings the peer up to date.
func (d *Document) EncodeDelta(peer StateVector) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]OpID, 0, len(d.elements))
	for id := range d.elements {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })

	wire := wireUpdate{Ops: make([]wireOp, 0, len(ids)*2)}
	for _, id := range ids {
		el := d.elements[id]
		if peer == nil || id.Counter > peer[id.Author] {
			wire.Ops = append(wire.Ops, wireOp{Kind: "ins", ID: el.id, Left: el.left, Char: el.ch})
		}
		if el.deleted {
			wire.Ops = append(wire.Ops, wireOp{Kind: "del", ID: el.id, Target: el.id})
		}
	}
	return json.Marshal(wire)
}

// SeedText initializes an empty document from plain text, as if a single author typed
// it in order. Used to restore a document from a Room.codeSnapshot or Snapshot.content
// when no CRDT state is available. Returns the generated update for persistence.
func (d *Document) SeedText(text string, author string) ([]byte, error) {
	d.mu.Lock()
	var ops []wireOp
	left := OpID{}
	counter := d.vector[author]
	for _, ch := range text {
		counter++
		id := OpID{Author: author, Counter: counter}
		el := &element{id: id, left: left, ch: ch}
		d.elements[id] = el
		d.children[left] = append(d.children[left], id)
		d.observe(id)
		ops = append(ops, wireOp{Kind: "ins", ID: id, Left: left, Char: ch})
		left = id
	}
	d.mu.Unlock()
	return json.Marshal(wireUpdate{Ops: ops})
}

// ValidateIntegrity encodes the document, decodes it into a fresh document, and checks
// that the decoded text equals the original, per the round-trip-restoration law.
func ValidateIntegrity(d *Document) (warnings []string, err error) {
	encoded, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode for integrity check: %w", err)
	}
	fresh := NewDocument()
	if err := fresh.ApplyUpdate(encoded); err != nil {
		return nil, fmt.Errorf("decode for integrity check: %w", err)
	}
	original := d.Text()
	if fresh.Text() != original {
		return nil, fmt.Errorf("crdt: integrity mismatch: decoded text diverges from original")
	}
	if len(encoded) > 1<<20 {
		warnings = append(warnings, "encoded size exceeds 1MB")
	}
	return warnings, nil
}
