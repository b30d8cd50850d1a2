// Package depslog implements the binary, length-prefixed deps log
// described in spec.md §4.3: a persistent store of implicit inputs per
// output, keyed by a dense node id assigned the first time a path is
// recorded. Grounded in the teacher's ninja-go/deps_log.go for the public
// surface (RecordDeps/GetDeps/id assignment), but the on-disk format
// follows spec.md's literal binary layout rather than the teacher's
// sqlite-backed rendition, since the format itself (magic, version,
// length-prefixed PathRecord/DepsRecord, checksum, truncated-tail
// tolerance) is a testable property of this component.
package depslog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/kiln-build/kiln/internal/graph"
)

var magic = [8]byte{'K', 'I', 'L', 'N', 'D', 'E', 'P', 'S'}

const currentVersion uint32 = 1

// recordKindMask marks the high bit of the 4-byte size field to
// distinguish a DepsRecord from a PathRecord, per spec.md §4.3.
const recordKindMask uint32 = 0x80000000
const recordSizeMask uint32 = 0x7fffffff

// Deps is the in-memory form of a DepsRecord: the output's mtime at
// record time and its implicit inputs.
type Deps struct {
	Mtime  int64
	Inputs []*graph.Node
}

// Log is an open deps log: the node-id table and latest Deps per node,
// plus (once OpenForWrite is called) an append-only file handle.
type Log struct {
	path string

	nodes []*graph.Node // id -> Node
	deps  []*Deps       // id -> latest Deps, nil if none recorded

	file *os.File
	w    *bufio.Writer

	needsRecompaction bool
}

// New creates an empty, unopened log.
func New() *Log { return &Log{} }

// GetDeps returns the most recently recorded Deps for node, or nil if the
// node has never been recorded or has no deps entry.
func (l *Log) GetDeps(node *graph.Node) *Deps {
	id := node.ID()
	if id < 0 || id >= len(l.deps) {
		return nil
	}
	return l.deps[id]
}

// Load reads path's existing records into memory, assigning graph nodes
// via getNode for every path it sees. Truncated or checksum-mismatched
// tails are tolerated: the good prefix is kept and the tail ignored.
func Load(path string, getNode func(path string, slashBits uint64) *graph.Node) (log *Log, ok bool, err error) {
	l := New()
	l.path = path

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr [12]byte
	n, _ := io_ReadFull(r, hdr[:])
	if n < 12 || hdr[0] != magic[0] || hdr[1] != magic[1] {
		// No recognizable header: treat as absent, force a full rebuild
		// rather than erroring, matching commandlog's same policy.
		return New(), false, nil
	}
	version := binary.LittleEndian.Uint32(hdr[8:12])
	if version != currentVersion {
		return New(), false, nil
	}

	total, unique := 0, 0
	for {
		var sizeField [4]byte
		m, rerr := io_ReadFull(r, sizeField[:])
		if m < 4 {
			break // clean EOF or truncated size field: stop here
		}
		raw := binary.LittleEndian.Uint32(sizeField[:])
		isDeps := raw&recordKindMask != 0
		size := raw & recordSizeMask

		payload := make([]byte, size)
		m, rerr = io_ReadFull(r, payload)
		if uint32(m) < size {
			break // truncated tail: keep the good prefix, stop
		}
		_ = rerr

		if isDeps {
			if len(payload) < 12 {
				break
			}
			outID := binary.LittleEndian.Uint32(payload[0:4])
			mtime := int64(binary.LittleEndian.Uint64(payload[4:12]))
			rest := payload[12:]
			if len(rest)%4 != 0 {
				break
			}
			count := len(rest) / 4
			inputs := make([]*graph.Node, count)
			bad := false
			for i := 0; i < count; i++ {
				id := binary.LittleEndian.Uint32(rest[i*4 : i*4+4])
				if int(id) >= len(l.nodes) {
					bad = true
					break
				}
				inputs[i] = l.nodes[id]
			}
			if bad {
				break
			}
			if int(outID) >= len(l.nodes) {
				break
			}
			total++
			l.deps[outID] = &Deps{Mtime: mtime, Inputs: inputs}
		} else {
			if len(payload) < 4 {
				break
			}
			pathBytes := payload[:len(payload)-4]
			checksum := binary.LittleEndian.Uint32(payload[len(payload)-4:])
			id := len(l.nodes)
			if checksum != ^uint32(id) {
				break // checksum disagreement: abort load at this point
			}
			node := getNode(string(pathBytes), 0)
			node.SetID(id)
			l.nodes = append(l.nodes, node)
			l.deps = append(l.deps, nil)
		}
	}

	for _, d := range l.deps {
		if d != nil {
			unique++
		}
	}
	l.needsRecompaction = version < currentVersion || (total > 1000 && total > unique*3)
	return l, true, nil
}

// io_ReadFull is a thin wrapper so Load can treat a short read as "stop
// here" uniformly, regardless of whether it came from EOF or an error.
func io_ReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// NeedsRecompaction reports whether Load decided the file should be
// rewritten.
func (l *Log) NeedsRecompaction() bool { return l.needsRecompaction }

// OpenForWrite prepares path for appending, recompacting first if the
// load decided it was necessary.
func (l *Log) OpenForWrite(path string) error {
	l.path = path
	if l.needsRecompaction {
		if err := l.Recompact(path); err != nil {
			return err
		}
		l.needsRecompaction = false
	}
	return nil
}

func (l *Log) openFileIfNeeded() error {
	if l.file != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	if info.Size() == 0 {
		l.w.Write(magic[:])
		var verBuf [4]byte
		binary.LittleEndian.PutUint32(verBuf[:], currentVersion)
		l.w.Write(verBuf[:])
	}
	return nil
}

// RecordDeps assigns ids to any new nodes (writing PathRecords for them
// first), then appends a DepsRecord for output with the given mtime and
// inputs. Idempotent if the data is unchanged from what's already
// recorded, matching the teacher's "made_change" short-circuit.
func (l *Log) RecordDeps(output *graph.Node, mtime int64, inputs []*graph.Node) error {
	if err := l.openFileIfNeeded(); err != nil {
		return err
	}

	changed := false
	if output.ID() < 0 {
		if err := l.recordID(output); err != nil {
			return err
		}
		changed = true
	}
	for _, in := range inputs {
		if in.ID() < 0 {
			if err := l.recordID(in); err != nil {
				return err
			}
			changed = true
		}
	}

	if !changed {
		if existing := l.GetDeps(output); existing != nil && existing.Mtime == mtime && sameInputs(existing.Inputs, inputs) {
			return nil
		}
	}

	id := output.ID()
	for id >= len(l.deps) {
		l.nodes = append(l.nodes, nil)
		l.deps = append(l.deps, nil)
	}
	l.deps[id] = &Deps{Mtime: mtime, Inputs: append([]*graph.Node(nil), inputs...)}

	payload := make([]byte, 12+4*len(inputs))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
	binary.LittleEndian.PutUint64(payload[4:12], uint64(mtime))
	for i, in := range inputs {
		binary.LittleEndian.PutUint32(payload[12+i*4:16+i*4], uint32(in.ID()))
	}
	return l.writeRecord(true, payload)
}

func sameInputs(a, b []*graph.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (l *Log) recordID(n *graph.Node) error {
	if n.Path() == "" {
		return errors.New("kiln: cannot record deps-log id for empty path")
	}
	id := len(l.nodes)
	n.SetID(id)
	l.nodes = append(l.nodes, n)
	l.deps = append(l.deps, nil)

	payload := make([]byte, len(n.Path())+4)
	copy(payload, n.Path())
	binary.LittleEndian.PutUint32(payload[len(n.Path()):], ^uint32(id))
	return l.writeRecord(false, payload)
}

func (l *Log) writeRecord(isDeps bool, payload []byte) error {
	size := uint32(len(payload)) & recordSizeMask
	if isDeps {
		size |= recordKindMask
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], size)
	if _, err := l.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	if _, err := l.w.Write(payload); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Recompact rewrites path containing only the latest Deps per node (and
// the path records they and their node table reference), then atomically
// replaces the original.
func (l *Log) Recompact(path string) error {
	tmp := path + ".recompact"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	w.Write(magic[:])
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], currentVersion)
	w.Write(verBuf[:])

	writeRec := func(isDeps bool, payload []byte) error {
		size := uint32(len(payload)) & recordSizeMask
		if isDeps {
			size |= recordKindMask
		}
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], size)
		if _, err := w.Write(sizeBuf[:]); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	}

	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	// Reset every id to -1 and re-densify from scratch, the way the
	// teacher's Recompact does: a node earns a fresh id only when it is
	// actually touched while re-recording a surviving Deps entry, as that
	// entry's output or as one of its inputs, so a node that no surviving
	// entry references is dropped along with its stale old id instead of
	// being written with a checksum that no longer matches its new
	// position.
	for _, n := range l.nodes {
		if n != nil {
			n.SetID(-1)
		}
	}

	var newNodes []*graph.Node
	var newDeps []*Deps
	var writeErr error

	assignID := func(n *graph.Node) uint32 {
		if id := n.ID(); id >= 0 {
			return uint32(id)
		}
		id := len(newNodes)
		n.SetID(id)
		newNodes = append(newNodes, n)
		newDeps = append(newDeps, nil)
		if writeErr == nil {
			payload := make([]byte, len(n.Path())+4)
			copy(payload, n.Path())
			binary.LittleEndian.PutUint32(payload[len(n.Path()):], ^uint32(id))
			writeErr = writeRec(false, payload)
		}
		return uint32(id)
	}

	for id, d := range l.deps {
		if d == nil {
			continue
		}
		out := l.nodes[id]
		if out == nil {
			continue
		}
		outID := assignID(out)
		inputIDs := make([]uint32, len(d.Inputs))
		for i, in := range d.Inputs {
			inputIDs[i] = assignID(in)
		}
		if writeErr != nil {
			return fail(writeErr)
		}
		newDeps[outID] = d

		payload := make([]byte, 12+4*len(d.Inputs))
		binary.LittleEndian.PutUint32(payload[0:4], outID)
		binary.LittleEndian.PutUint64(payload[4:12], uint64(d.Mtime))
		for i, iid := range inputIDs {
			binary.LittleEndian.PutUint32(payload[12+i*4:16+i*4], iid)
		}
		if err := writeRec(true, payload); err != nil {
			return fail(err)
		}
	}

	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(fmt.Errorf("closing recompacted deps log: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	l.nodes = newNodes
	l.deps = newDeps
	return nil
}

// Close flushes and closes the underlying file, if open.
func (l *Log) Close() error {
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return err
		}
	}
	if l.file != nil {
		err := l.file.Close()
		l.file, l.w = nil, nil
		return err
	}
	return nil
}

// Nodes and DepsByID expose the id-indexed tables.
func (l *Log) Nodes() []*graph.Node { return l.nodes }
func (l *Log) DepsByID() []*Deps    { return l.deps }
