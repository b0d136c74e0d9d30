package git

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// parsePorcelain parses `git status --porcelain=v2 -z` output into a new
// snapshot rooted at toplevel. Records are NUL terminated; a rename record
// is followed by one extra record holding the original path.
//
// Record formats:
//
//	# branch.head <name>
//	1 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <path>
//	2 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <X><score> <path>
//	u <XY> <sub> <m1> <m2> <m3> <mW> <h1> <h2> <h3> <path>
//	? <path>
//	! <path>
func parsePorcelain(toplevel string, out []byte) (*Snapshot, error) {
	s := newSnapshot(toplevel)
	records := bytes.Split(out, []byte{0})

	for i := 0; i < len(records); i++ {
		rec := string(records[i])
		if rec == "" {
			continue
		}

		switch rec[0] {
		case '#':
			parseHeader(s, rec)

		case '1':
			fields := strings.SplitN(rec, " ", 9)
			if len(fields) < 9 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedStatus, rec)
			}
			s.addRel(fields[8], ordinaryFlags(fields[1]))

		case '2':
			fields := strings.SplitN(rec, " ", 10)
			if len(fields) < 10 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedStatus, rec)
			}
			f := ordinaryFlags(fields[1])
			path := s.addRel(fields[9], f)
			if i+1 < len(records) {
				i++
				s.renamed[path] = s.abs(string(records[i]))
			}

		case 'u':
			fields := strings.SplitN(rec, " ", 11)
			if len(fields) < 11 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedStatus, rec)
			}
			s.addRel(fields[10], unmergedFlags(fields[1]))

		case '?':
			if len(rec) > 2 {
				s.addRel(rec[2:], Untracked)
			}

		case '!':
			if len(rec) > 2 {
				s.addRel(rec[2:], Ignored)
			}

		default:
			return nil, fmt.Errorf("%w: unknown record %q", ErrMalformedStatus, rec)
		}
	}
	return s, nil
}

func parseHeader(s *Snapshot, rec string) {
	fields := strings.Fields(rec)
	if len(fields) < 3 {
		return
	}
	switch fields[1] {
	case "branch.oid":
		if fields[2] != "(initial)" {
			s.Head = fields[2]
		}
	case "branch.head":
		if fields[2] != "(detached)" {
			s.Branch = fields[2]
		}
	case "branch.upstream":
		s.Upstream = fields[2]
	case "branch.ab":
		if len(fields) >= 4 {
			s.Ahead, _ = strconv.Atoi(strings.TrimPrefix(fields[2], "+"))
			s.Behind, _ = strconv.Atoi(strings.TrimPrefix(fields[3], "-"))
		}
	case "stash":
		s.Stashed, _ = strconv.Atoi(fields[2])
	}
}

func (s *Snapshot) abs(rel string) string {
	return filepath.Join(s.Toplevel, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
}

// addRel records a repository-relative path. A trailing slash marks a
// directory reported as a unit.
func (s *Snapshot) addRel(rel string, f Flags) string {
	isDir := strings.HasSuffix(rel, "/")
	path := s.abs(rel)
	s.add(path, f, isDir)
	return path
}
