package rpc

import (
	"fmt"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
)

// reduce collapses a full response set into the single dispatch result.
//
// Members that answered with a fault are logged at warn and dropped;
// unreachable and silent members are dropped without logging (their absence
// is expected operational noise). Null answers are dropped. Among the
// survivors the first one in collection order wins, and a boxed survivor is
// unwrapped before delivery. An empty survivor set reduces to (nil, nil):
// the group had no answer, which is not a failure.
func reduce(set *group.RspSet) (any, error) {
	for _, r := range set.All() {
		metrics.RecordMemberResponse(string(r.Kind))
		if r.Kind == group.RspFault {
			logging.Op().Warn("member answered with fault", "sender", r.Sender, "fault", r.Fault)
		}
	}

	for _, r := range set.All() {
		if r.Kind != group.RspValue {
			continue
		}
		switch v := r.Value.(type) {
		case nil:
			continue
		case *group.Boxed:
			if v.IsNull() {
				continue
			}
			value, err := v.Unwrap()
			if err != nil {
				return nil, fmt.Errorf("rpc: decode value from %s: %w", r.Sender, err)
			}
			return value, nil
		default:
			return v, nil
		}
	}
	return nil, nil
}
