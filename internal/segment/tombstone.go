package segment

import (
	"encoding/json"
	"os"
	"path/filepath"

	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// LoadTombstones reads a segment's "del" file, a JSON array of deleted
// docIds, into a set.
func LoadTombstones(dir string) (map[uint32]struct{}, error) {
	data, err := os.ReadFile(filepath.Join(dir, TombstoneFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint32]struct{}{}, nil
		}
		return nil, fserrors.Newf(fserrors.ErrIO, "reading tombstone file: %v", err)
	}
	var ids []uint32
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fserrors.Newf(fserrors.ErrFormat, "parsing tombstone file: %v", err)
	}
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// SaveTombstones appends docID to the tombstone set and persists it,
// atomically replacing the previous "del" file.
func SaveTombstones(dir string, tombstones map[uint32]struct{}) error {
	ids := make([]uint32, 0, len(tombstones))
	for id := range tombstones {
		ids = append(ids, id)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "marshaling tombstones: %v", err)
	}
	final := filepath.Join(dir, TombstoneFile)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "writing tombstone temp file: %v", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "renaming tombstone file into place: %v", err)
	}
	return nil
}

// IsLive reports whether docID is live (not tombstoned) in tombstones.
func IsLive(tombstones map[uint32]struct{}, docID uint32) bool {
	_, deleted := tombstones[docID]
	return !deleted
}

// UpdateMeta rewrites a segment's meta.json in place, used when its status
// or level changes (e.g. marked MERGING, then DELETED).
func UpdateMeta(dir string, meta Descriptor) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "marshaling segment meta: %v", err)
	}
	final := filepath.Join(dir, MetaFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "writing meta temp file: %v", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "renaming meta file into place: %v", err)
	}
	return nil
}
