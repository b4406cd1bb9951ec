// Package ring implements ringdb's consistent-hash ring: vnode placement,
// owner/replica-set lookup, and the token-range handoff computation used
// when a node joins or leaves the cluster, per spec.md §4.3. It is
// grounded on the original implementation's hashring module, translated
// from a BTreeMap-range walk into a sorted-slice-plus-binary-search walk.
package ring

import (
	"sort"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/dreamware/ringdb/internal/apperr"
)

// vnodesPerNode is the number of virtual nodes placed on the ring for
// every physical endpoint, trading ring-balance fidelity for placement
// table size.
const vnodesPerNode = 32

// Token is a 128-bit ring position, ordered as an unsigned big-endian pair.
type Token struct {
	Hi, Lo uint64
}

func (t Token) less(o Token) bool {
	if t.Hi != o.Hi {
		return t.Hi < o.Hi
	}
	return t.Lo < o.Lo
}

// HashToken positions an arbitrary key on the ring using MurmurHash3
// x64-128, the same hash family the original implementation uses.
func HashToken(key string) Token {
	hi, lo := murmur3.Sum128([]byte(key))
	return Token{Hi: hi, Lo: lo}
}

type entry struct {
	Token Token
	Node  string
}

// TokenRange is a half-open (Start, End] range of the ring, used to
// describe the data a node must transfer during a topology change.
type TokenRange struct {
	Start Token
	End   Token
}

// Ring is a consistent hash ring over a set of physical node addresses.
// It is not safe for concurrent use; callers serialize access the same
// way spec.md §5 requires for every other shared mutable structure.
type Ring struct {
	entries []entry
	nodes   map[string]bool
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{nodes: make(map[string]bool)}
}

// NodeCount returns the number of distinct physical nodes on the ring.
func (r *Ring) NodeCount() int { return len(r.nodes) }

// AddNode places vnodesPerNode virtual nodes for addr on the ring. It is
// a no-op if addr is already present.
func (r *Ring) AddNode(addr string) {
	if r.nodes[addr] {
		return
	}
	for i := 0; i < vnodesPerNode; i++ {
		r.insert(entry{Token: vnodeToken(addr, i), Node: addr})
	}
	r.nodes[addr] = true
}

// RemoveNode deletes every virtual node for addr from the ring.
func (r *Ring) RemoveNode(addr string) {
	if !r.nodes[addr] {
		return
	}
	filtered := r.entries[:0]
	for _, e := range r.entries {
		if e.Node != addr {
			filtered = append(filtered, e)
		}
	}
	r.entries = filtered
	delete(r.nodes, addr)
}

func vnodeToken(addr string, i int) Token {
	return HashToken(vnodeName(addr, i))
}

func vnodeName(addr string, i int) string {
	return addr + "-" + strconv.Itoa(i)
}

func (r *Ring) insert(e entry) {
	idx := sort.Search(len(r.entries), func(i int) bool { return !r.entries[i].Token.less(e.Token) })
	r.entries = append(r.entries, entry{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = e
}

// searchForward returns the index of the first entry whose token is not
// less than tk, wrapping to 0 if every entry precedes tk.
func (r *Ring) searchForward(tk Token) int {
	idx := sort.Search(len(r.entries), func(i int) bool { return !r.entries[i].Token.less(tk) })
	if idx == len(r.entries) {
		idx = 0
	}
	return idx
}

// Owner returns the physical node that owns key: the node whose nearest
// vnode token is at or after key's hash, wrapping around the ring.
func (r *Ring) Owner(key string) (string, error) {
	if len(r.entries) == 0 {
		return "", apperr.New(apperr.KindRouting, "ring has no nodes")
	}
	idx := r.searchForward(HashToken(key))
	return r.entries[idx].Node, nil
}

// ReplicaSet returns the rf distinct physical nodes responsible for key,
// starting with its owner and walking the ring clockwise.
func (r *Ring) ReplicaSet(key string, rf int) ([]string, error) {
	if r.NodeCount() < rf {
		return nil, apperr.Newf(apperr.KindRouting, "only %d nodes available, need %d for replication factor", r.NodeCount(), rf)
	}
	idx := r.searchForward(HashToken(key))
	nodes := make([]string, 0, rf)
	seen := make(map[string]bool, rf)
	n := len(r.entries)
	for i := 0; i < n && len(nodes) < rf; i++ {
		e := r.entries[(idx+i)%n]
		if !seen[e.Node] {
			seen[e.Node] = true
			nodes = append(nodes, e.Node)
		}
	}
	return nodes, nil
}

// walkForwardDistinct walks the ring strictly after start, collecting up
// to count distinct node addresses other than exclude. It mirrors the
// original get_replicas loop, which advances one ring entry at a time
// rather than skipping directly between distinct nodes.
func (r *Ring) walkForwardDistinct(start Token, count int, exclude string) []string {
	if count <= 0 {
		return nil
	}
	n := len(r.entries)
	if n == 0 {
		return nil
	}
	idx := sort.Search(n, func(i int) bool { return start.less(r.entries[i].Token) })
	var nodes []string
	seen := map[string]bool{exclude: true}
	for step := 0; step < 2*n && len(nodes) < count; step++ {
		e := r.entries[idx%n]
		if !seen[e.Node] {
			seen[e.Node] = true
			nodes = append(nodes, e.Node)
		}
		idx++
	}
	return nodes
}

// nextOther returns the first ring entry strictly after from whose node
// is not exclude, wrapping around the ring if necessary. It mirrors
// get_next in the original hashring.
func (r *Ring) nextOther(from Token, exclude string) (entry, bool) {
	n := len(r.entries)
	if n == 0 {
		return entry{}, false
	}
	start := sort.Search(n, func(i int) bool { return from.less(r.entries[i].Token) })
	for i := 0; i < n; i++ {
		e := r.entries[(start+i)%n]
		if e.Node != exclude {
			return e, true
		}
	}
	return entry{}, false
}

// prevOther returns the first ring entry strictly before from whose node
// is not exclude, scanning backward and wrapping if necessary. Entries
// belonging to exclude that are skipped on the first (pre-from) pass are
// recorded in used, mirroring get_previous's used-vnode bookkeeping.
func (r *Ring) prevOther(from Token, exclude string, used map[Token]bool) (entry, bool) {
	n := len(r.entries)
	if n == 0 {
		return entry{}, false
	}
	idxStart := sort.Search(n, func(i int) bool { return !r.entries[i].Token.less(from) })
	for i := idxStart - 1; i >= 0; i-- {
		if r.entries[i].Node == exclude {
			used[r.entries[i].Token] = true
			continue
		}
		return r.entries[i], true
	}
	for i := n - 1; i >= idxStart; i-- {
		if r.entries[i].Node == exclude {
			continue
		}
		return r.entries[i], true
	}
	return entry{}, false
}

func (r *Ring) vnodeTokens(addr string) []Token {
	tokens := make([]Token, 0, vnodesPerNode)
	for _, e := range r.entries {
		if e.Node == addr {
			tokens = append(tokens, e.Token)
		}
	}
	return tokens
}

// PartitionsForJoin computes the token ranges localNode must hand off to
// newNode, which has already been added to the ring via AddNode. It
// mirrors get_partitions in the original hashring module.
func (r *Ring) PartitionsForJoin(newNode, localNode string, rf int) []TokenRange {
	vnodes := r.vnodeTokens(newNode)
	sort.Slice(vnodes, func(i, j int) bool { return vnodes[j].less(vnodes[i]) })

	used := make(map[Token]bool)
	var out []TokenRange
	for _, vt := range vnodes {
		if used[vt] {
			continue
		}
		next, ok := r.nextOther(vt, newNode)
		if !ok {
			continue
		}
		others := r.walkForwardDistinct(next.Token, rf-1, next.Node)
		replicas := append([]string{next.Node}, others...)
		if len(replicas) < rf || !contains(replicas, localNode) {
			continue
		}

		previous := vt
		for j := 0; j < rf; j++ {
			prev, ok := r.prevOther(previous, newNode, used)
			if !ok {
				break
			}
			rangeStart, rangeEnd := prev.Token, previous
			previous = prev.Token
			if replicas[len(replicas)-1-j] != localNode {
				continue
			}
			out = append(out, TokenRange{Start: rangeStart, End: rangeEnd})
		}
	}
	return out
}

// PartitionsForLeave computes, for a node about to be removed from the
// ring (it must still be present when this is called), the token ranges
// each remaining replica must receive, keyed by destination node
// address. It mirrors get_partitions_remove.
func (r *Ring) PartitionsForLeave(leavingNode string, rf int) map[string][]TokenRange {
	vnodes := r.vnodeTokens(leavingNode)
	sort.Slice(vnodes, func(i, j int) bool { return vnodes[j].less(vnodes[i]) })

	used := make(map[Token]bool)
	out := make(map[string][]TokenRange)
	for _, vt := range vnodes {
		if used[vt] {
			continue
		}
		next, ok := r.nextOther(vt, leavingNode)
		if !ok {
			continue
		}
		others := r.walkForwardDistinct(next.Token, rf-1, next.Node)
		replicas := append([]string{next.Node}, others...)

		previous := vt
		for j := 0; j < rf; j++ {
			prev, ok := r.prevOther(previous, leavingNode, used)
			if !ok {
				break
			}
			rangeStart, rangeEnd := prev.Token, previous
			previous = prev.Token
			if j >= len(replicas) {
				continue
			}
			dest := replicas[len(replicas)-1-j]
			out[dest] = append(out[dest], TokenRange{Start: rangeStart, End: rangeEnd})
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
