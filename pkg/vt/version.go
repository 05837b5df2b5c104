package vt

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// vtpMagic identifies a serialized pool version file on disk.
var vtpMagic = [4]byte{'V', 'T', 'P', '1'}

// StoredPoolVersion is one version of a working set's pool as held by
// the server, either in memory or backed by a .vtp file.
type StoredPoolVersion struct {
	Label     string
	Timestamp time.Time
	VTVersion uint16
	Pool      *Pool
}

// VersionStore holds every known pool version for one client's working
// set (keyed by its 7-character label) plus its on-disk mirror, a
// small binary format since a pool version is object data rather than
// key/value configuration.
//
// On-disk layout under <root>/<clientAddrHex>/<label>.vtp:
//
//	4 bytes  magic "VTP1"
//	8 bytes  unix timestamp, little-endian
//	4 bytes  pool size, little-endian
//	2 bytes  VT version, little-endian
//	1 byte   object count
//	8 bytes  zero-padded label
//	N bytes  raw serialized pool
type VersionStore struct {
	mu   sync.Mutex
	root string
	addr uint8

	versions map[string]*StoredPoolVersion
}

// NewVersionStore constructs a version store rooted at
// <root>/<clientAddr in hex>.
func NewVersionStore(root string, clientAddr uint8) *VersionStore {
	return &VersionStore{
		root:     root,
		addr:     clientAddr,
		versions: make(map[string]*StoredPoolVersion),
	}
}

func (vs *VersionStore) clientDir() string {
	return filepath.Join(vs.root, fmt.Sprintf("%02x", vs.addr))
}

func (vs *VersionStore) filePath(label string) string {
	return filepath.Join(vs.clientDir(), label+".vtp")
}

// StoreVersion serializes a pool and commits it both to memory and to
// its .vtp file, using a write-to-temp-then-rename sequence so a crash
// mid-write never leaves a half-written file where a reader expects a
// complete one.
func (vs *VersionStore) StoreVersion(label string, pool *Pool, vtVersion uint16, timestamp time.Time) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	sv := &StoredPoolVersion{Label: label, Timestamp: timestamp, VTVersion: vtVersion, Pool: pool}
	vs.versions[label] = sv

	if vs.root == "" {
		return nil
	}
	if err := os.MkdirAll(vs.clientDir(), 0o755); err != nil {
		return fmt.Errorf("vt: create client version dir: %w", err)
	}
	return writeVTPFile(vs.filePath(label), sv)
}

func writeVTPFile(path string, sv *StoredPoolVersion) error {
	body := sv.Pool.Serialize()

	var header [4 + 8 + 4 + 2 + 1 + 8]byte
	copy(header[0:4], vtpMagic[:])
	binary.LittleEndian.PutUint64(header[4:12], uint64(sv.Timestamp.Unix()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(body)))
	binary.LittleEndian.PutUint16(header[16:18], sv.VTVersion)
	header[18] = uint8(len(sv.Pool.Objects()))
	copy(header[19:27], []byte(sv.Label))

	buf := append(header[:], body...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("vt: write temp version file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vt: rename version file: %w", err)
	}
	return nil
}

func readVTPFile(path string) (*StoredPoolVersion, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 27 || string(raw[0:4]) != string(vtpMagic[:]) {
		return nil, fmt.Errorf("vt: %s: not a valid pool version file", path)
	}
	ts := time.Unix(int64(binary.LittleEndian.Uint64(raw[4:12])), 0)
	size := binary.LittleEndian.Uint32(raw[12:16])
	vtVersion := binary.LittleEndian.Uint16(raw[16:18])
	label := trimZeroPad(raw[19:27])

	body := raw[27:]
	if uint32(len(body)) != size {
		return nil, fmt.Errorf("vt: %s: declared size %d does not match %d stored bytes", path, size, len(body))
	}
	pool, err := DeserializePool(label, body)
	if err != nil {
		return nil, err
	}
	return &StoredPoolVersion{Label: label, Timestamp: ts, VTVersion: vtVersion, Pool: pool}, nil
}

func trimZeroPad(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// LoadVersion returns a stored pool version, checking memory first and
// falling back to disk.
func (vs *VersionStore) LoadVersion(label string) (*StoredPoolVersion, bool) {
	vs.mu.Lock()
	if sv, ok := vs.versions[label]; ok {
		vs.mu.Unlock()
		return sv, true
	}
	vs.mu.Unlock()

	if vs.root == "" {
		return nil, false
	}
	sv, err := readVTPFile(vs.filePath(label))
	if err != nil {
		return nil, false
	}
	vs.mu.Lock()
	vs.versions[label] = sv
	vs.mu.Unlock()
	return sv, true
}

// DeleteVersion removes a version from memory and disk.
func (vs *VersionStore) DeleteVersion(label string) error {
	vs.mu.Lock()
	delete(vs.versions, label)
	vs.mu.Unlock()

	if vs.root == "" {
		return nil
	}
	err := os.Remove(vs.filePath(label))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vt: delete version file: %w", err)
	}
	return nil
}

// LoadAllVersionsFromDisk scans the client's version directory and
// loads every .vtp file found into memory, skipping any that fail to
// parse (a corrupt version should not prevent the rest from loading).
func (vs *VersionStore) LoadAllVersionsFromDisk() error {
	if vs.root == "" {
		return nil
	}
	entries, err := os.ReadDir(vs.clientDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vt: read client version dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".vtp" {
			continue
		}
		sv, err := readVTPFile(filepath.Join(vs.clientDir(), e.Name()))
		if err != nil {
			continue
		}
		vs.mu.Lock()
		vs.versions[sv.Label] = sv
		vs.mu.Unlock()
	}
	return nil
}

// CleanupExpiredVersions deletes every stored version older than
// maxAge, relative to now. Returns the labels removed.
func (vs *VersionStore) CleanupExpiredVersions(maxAge time.Duration, now time.Time) []string {
	vs.mu.Lock()
	var expired []string
	for label, sv := range vs.versions {
		if now.Sub(sv.Timestamp) > maxAge {
			expired = append(expired, label)
		}
	}
	vs.mu.Unlock()

	sort.Strings(expired)
	for _, label := range expired {
		vs.DeleteVersion(label)
	}
	return expired
}

// Labels returns every version label currently held in memory, sorted.
// Files on disk not yet loaded (by LoadVersion or
// LoadAllVersionsFromDisk) are not listed.
func (vs *VersionStore) Labels() []string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]string, 0, len(vs.versions))
	for label := range vs.versions {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
