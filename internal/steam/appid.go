// Package steam holds identifiers shared by the Steam collaborators and the
// orchestrator. The store, community, and webapi subpackages wrap the HTTP
// surfaces idlefarm consumes.
package steam

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AppID identifies a Steam application.
type AppID uint32

func (id AppID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAppID parses a single positive application id.
func ParseAppID(raw string) (AppID, error) {
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid app id %q: %w", raw, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("invalid app id %q: must be positive", raw)
	}
	return AppID(value), nil
}

// ParseAppIDs parses ids given as separate arguments or comma separated
// lists. Duplicates are removed while preserving first-seen order.
func ParseAppIDs(values []string) ([]AppID, error) {
	var out []AppID
	seen := make(map[AppID]struct{})
	var errs []error
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := ParseAppID(part)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
