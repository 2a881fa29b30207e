package distro

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// vnodesPerMember is the number of virtual nodes each member places on the
// ring. 160 points keep the partition sizes within a few percent of each
// other for realistic cluster sizes.
const vnodesPerMember = 160

type vnode struct {
	hash   uint64
	member string
}

// Ring is the immutable ownership map of the AP key space. Every member
// computes the ring from the same membership view with the same hash, so all
// members agree on key ownership without coordination.
type Ring struct {
	Version uint64
	members []string // sorted
	vnodes  []vnode  // sorted by hash
}

// BuildRing places vnodesPerMember points per member on the hash circle.
// The input order of members does not matter.
func BuildRing(version uint64, members []string) *Ring {
	ids := make([]string, len(members))
	copy(ids, members)
	sort.Strings(ids)

	vnodes := make([]vnode, 0, len(ids)*vnodesPerMember)
	for _, id := range ids {
		for i := 0; i < vnodesPerMember; i++ {
			vnodes = append(vnodes, vnode{
				hash:   xxhash.Sum64String(fmt.Sprintf("%s#%d", id, i)),
				member: id,
			})
		}
	}
	sort.Slice(vnodes, func(i, j int) bool {
		if vnodes[i].hash != vnodes[j].hash {
			return vnodes[i].hash < vnodes[j].hash
		}
		// colliding points must order identically on every member
		return vnodes[i].member < vnodes[j].member
	})

	return &Ring{
		Version: version,
		members: ids,
		vnodes:  vnodes,
	}
}

// Empty reports whether the ring has no members.
func (r *Ring) Empty() bool {
	return len(r.vnodes) == 0
}

// Members returns the sorted member ids on the ring.
func (r *Ring) Members() []string {
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

// SameMembers reports whether both rings carry the same member set.
func (r *Ring) SameMembers(o *Ring) bool {
	if o == nil || len(r.members) != len(o.members) {
		return false
	}
	for i := range r.members {
		if r.members[i] != o.members[i] {
			return false
		}
	}
	return true
}

// Owner returns the member owning the key: the first vnode at or after the
// key's hash, wrapping around the circle. An empty ring owns nothing.
func (r *Ring) Owner(key string) string {
	if len(r.vnodes) == 0 {
		return ""
	}
	h := xxhash.Sum64String(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if idx == len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].member
}

// Owns reports whether the member owns the key.
func (r *Ring) Owns(key, member string) bool {
	return r.Owner(key) == member
}
