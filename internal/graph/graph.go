// Package graph implements the versioned provenance graph: the
// correctness-critical core of the session. It maintains nodes keyed by
// (name, version) and labeled directed edges between them, and realizes the
// open/close/spawn versioning rules that keep dependency queries over the
// active-edge subgraph sound (no spurious cycles introduced by the serial
// order unrelated events happened to arrive in).
//
// The bump rule (when a write must be redirected to a fresh version of its
// target) is not fully pinned down by prose alone; it is reverse-engineered
// here from the worked edge sets in the end-to-end scenarios, per DESIGN.md.
package graph

import (
	"errors"
	"strconv"
	"sync"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
)

type Kind int

const (
	FileKind Kind = iota
	ProcessKind
)

type Mark int

const (
	Unmarked Mark = iota
	Marked
)

type ModState int

const (
	Unmodified ModState = iota
	Modified
)

type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

type EdgeLabel int

const (
	Active EdgeLabel = iota
	Inactive
)

// Modification is the result of an IsModified query.
type Modification int

const (
	NotExist Modification = iota
	NotModified
	ModifiedResult
)

var (
	ErrNotInitialized     = errors.New("versioned graph: not initialized")
	ErrAlreadyInitialized = errors.New("versioned graph: already initialized")
)

// Node is a single versioned graph vertex: (name, kind, version) plus its
// mark and modification flags.
type Node struct {
	Name    string
	Kind    Kind
	Version int
	Mark    Mark
	Mod     ModState
}

func nodeKey(name string, version int) string {
	return name + strconv.Itoa(version)
}

func (n *Node) key() string {
	return nodeKey(n.Name, n.Version)
}

// Edge is a directed, labeled relation between two node versions.
type Edge struct {
	From  Node
	To    Node
	Label EdgeLabel
}

// Graph is the versioned provenance graph. It is safe for concurrent use;
// every public method holds the graph's own mutex for its duration, per the
// concurrency model in spec.md section 5.
type Graph struct {
	mu          sync.Mutex
	initialized bool
	nodes       map[string]*Node    // keyed by name+version, no kind dimension
	latest      map[string]int      // current version per name
	edges       map[string]*Edge    // keyed by fromKey+toKey
	outEdges    map[string][]string // node key -> edge keys where it is the source
}

// New returns an uninitialized graph; Init must be called before use.
func New() *Graph {
	return &Graph{}
}

// Init prepares the graph for use. Calling Init twice without an
// intervening Clear is an error.
func (g *Graph) Init() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return ErrAlreadyInitialized
	}
	g.nodes = make(map[string]*Node)
	g.latest = make(map[string]int)
	g.edges = make(map[string]*Edge)
	g.outEdges = make(map[string][]string)
	g.initialized = true
	return nil
}

// Clear releases all nodes and edges and returns the graph to the
// uninitialized state.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.latest = nil
	g.edges = nil
	g.outEdges = nil
	g.initialized = false
}

func (g *Graph) getOrCreateLatest(name string, kind Kind) *Node {
	if v, ok := g.latest[name]; ok {
		return g.nodes[nodeKey(name, v)]
	}
	n := &Node{Name: name, Kind: kind, Version: 1}
	g.latest[name] = 1
	g.nodes[n.key()] = n
	return n
}

func (g *Graph) bump(v *Node) *Node {
	nv := &Node{Name: v.Name, Kind: v.Kind, Version: v.Version + 1}
	g.nodes[nv.key()] = nv
	g.latest[v.Name] = nv.Version
	g.addEdge(v, nv, Inactive)
	return nv
}

func edgeKey(u, v *Node) string {
	return u.key() + v.key()
}

func (g *Graph) findEdge(u, v *Node) (*Edge, bool) {
	e, ok := g.edges[edgeKey(u, v)]
	return e, ok
}

func (g *Graph) addEdge(u, v *Node, label EdgeLabel) *Edge {
	e := &Edge{From: *u, To: *v, Label: label}
	k := edgeKey(u, v)
	g.edges[k] = e
	g.outEdges[u.key()] = append(g.outEdges[u.key()], k)
	return e
}

func (g *Graph) hasInactiveOutgoing(v *Node) bool {
	for _, k := range g.outEdges[v.key()] {
		if e := g.edges[k]; e != nil && e.Label == Inactive {
			return true
		}
	}
	return false
}

// relation is one directed (u -> v) half of an open/close call, expanded
// from the subject/object/mode triple per spec.md section 4.2.
type relation struct {
	uName string
	uKind Kind
	vName string
	vKind Kind
	write bool // true if u is the writer in this relation
}

func relationsFor(subjectKey, object string, mode Mode) []relation {
	write := relation{uName: subjectKey, uKind: ProcessKind, vName: object, vKind: FileKind, write: true}
	read := relation{uName: object, uKind: FileKind, vName: subjectKey, vKind: ProcessKind, write: false}
	switch mode {
	case WriteOnly:
		return []relation{write}
	case ReadOnly:
		return []relation{read}
	case ReadWrite:
		return []relation{write, read}
	}
	return nil
}

// Open performs versioned_open: for each direction implied by mode, it
// resolves a cycle-through-time bump if needed and adds (or retains) an
// ACTIVE edge from the relation's source to its target.
func (g *Graph) Open(subject event.PIDKey, object string, mode Mode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrNotInitialized
	}
	subjectKey := subject.String()
	for _, rel := range relationsFor(subjectKey, object, mode) {
		u := g.getOrCreateLatest(rel.uName, rel.uKind)
		v := g.getOrCreateLatest(rel.vName, rel.vKind)

		for {
			if e, ok := g.findEdge(u, v); ok {
				if e.Label == Active {
					break // already active, retain as-is
				}
				// the specific u->v edge is historical; reactivating it
				// would misrepresent it as still live, so bump instead.
				v = g.bump(v)
				continue
			}
			if g.hasInactiveOutgoing(v) {
				// v has already concluded a relationship with someone
				// else; routing a new edge into v* would create a cycle
				// through time, so give the new edge a fresh version.
				v = g.bump(v)
				continue
			}
			break
		}

		if _, ok := g.findEdge(u, v); !ok {
			g.addEdge(u, v, Active)
		}
		if rel.write {
			u.Mod = Modified
		}
	}
	return nil
}

// Close performs versioned_close: it retrieves-or-creates both endpoints of
// each relation and, if a matching ACTIVE edge exists, deactivates it and
// marks both endpoint nodes; without such an edge no node is marked. A close
// is always reported as successful, even when there was nothing to
// deactivate.
func (g *Graph) Close(subject event.PIDKey, object string, mode Mode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrNotInitialized
	}
	subjectKey := subject.String()
	for _, rel := range relationsFor(subjectKey, object, mode) {
		u := g.getOrCreateLatest(rel.uName, rel.uKind)
		v := g.getOrCreateLatest(rel.vName, rel.vKind)
		if e, ok := g.findEdge(u, v); ok && e.Label == Active {
			e.Label = Inactive
			u.Mark = Marked
			v.Mark = Marked
		}
	}
	return nil
}

// Spawn performs versioned_spawn: it adds a single INACTIVE edge from the
// parent's latest version to the child's, creating the child at version 1
// if it does not already exist. Spawn never bumps the parent.
func (g *Graph) Spawn(parent, child event.PIDKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrNotInitialized
	}
	p := g.getOrCreateLatest(parent.String(), ProcessKind)
	c := g.getOrCreateLatest(child.String(), ProcessKind)
	if _, ok := g.findEdge(p, c); !ok {
		g.addEdge(p, c, Inactive)
	}
	return nil
}

// IsModified answers is_file_or_process_modified: MODIFIED if any version
// of (name, *) carries Mod == Modified, NotModified if the name has at
// least one node and none are modified, NotExist otherwise.
func (g *Graph) IsModified(name string) (Modification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return NotExist, ErrNotInitialized
	}
	latestVersion, ok := g.latest[name]
	if !ok {
		return NotExist, nil
	}
	for v := 1; v <= latestVersion; v++ {
		if n, ok := g.nodes[nodeKey(name, v)]; ok && n.Mod == Modified {
			return ModifiedResult, nil
		}
	}
	return NotModified, nil
}

// SetModified directly flags a specific (name, version) node as modified,
// for administrative/debugging use. Normal ingest never calls it; Open
// itself flags the writer of every WRITE-direction relation.
func (g *Graph) SetModified(name string, version int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrNotInitialized
	}
	n, ok := g.nodes[nodeKey(name, version)]
	if !ok {
		return ErrNodeNotFound
	}
	n.Mod = Modified
	return nil
}

var ErrNodeNotFound = errors.New("versioned graph: node not found")

// NodeCount returns the number of distinct (name, version) nodes currently
// in the graph. Exposed for tests and diagnostics.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges currently in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

// Nodes returns a snapshot copy of every node, for tests and reconstruction.
func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	return out
}

// Edges returns a snapshot copy of every edge, keyed by the concatenation
// of its endpoints' node keys as described in spec.md section 4.2.
func (g *Graph) Edges() map[string]Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Edge, len(g.edges))
	for k, e := range g.edges {
		out[k] = *e
	}
	return out
}
